package domain

import "time"

const (
	// CodesStoreName is the store the code registry document is persisted under.
	CodesStoreName = "codes"

	// CodeValidity is how long a newly added code can be redeemed.
	CodeValidity = 7 * 24 * time.Hour

	// ClaimWindow is how long a signed claim stays executable on-chain,
	// counted from the moment it is signed.
	ClaimWindow = 30 * 24 * time.Hour

	// MaxExtendDays bounds one ExtendAll call, about 10000 years either way.
	MaxExtendDays = 3_660_000

	// MaxRequestBodySize bounds the getSig request body.
	MaxRequestBodySize = 16 * 1024

	// MaxAdminBodySize bounds admin API bodies, which may carry bulk code lists.
	MaxAdminBodySize = 8 << 20
)
