package domain

import (
	"time"

	"xuesigner/internal/store"
)

// CodeEntry is the registry record for one redeemable code.
type CodeEntry struct {
	Expiry time.Time `json:"expiry"`
}

// Codes maps a code, exactly as supplied, to its entry.
type Codes map[string]CodeEntry

// ClaimMessage is the typed payload that gets signed.
type ClaimMessage struct {
	Receiver    string `json:"receiver"`
	CodeHash    string `json:"codeHash"`
	ClaimBefore uint32 `json:"claimBefore"`
}

// Signature is an secp256k1 signature split into its components.
// V is 27 or 28; YParity is V-27.
type Signature struct {
	R       string       `json:"r"`
	S       string       `json:"s"`
	V       store.BigInt `json:"v"`
	YParity int          `json:"yParity"`
}

type SignedClaim struct {
	Message   ClaimMessage `json:"message"`
	Signature Signature    `json:"signature"`
}

type GetSigReq struct {
	Code      string `json:"code" validate:"required"`
	Receiver  string `json:"receiver" validate:"required,eth_addr"`
	Recaptcha string `json:"recaptcha" validate:"required"`
}

type AddCodeReq struct {
	Code string `json:"code"`
}

type AddCodesReq struct {
	Codes []string `json:"codes"`
}

type ExtendCodesReq struct {
	Days int `json:"days"`
}

type AdminRes struct {
	Affected int `json:"affected"`
}
