package domain

import "errors"

var (
	ErrUnknownCode           = errors.New("unknown code")
	ErrCodeExpired           = errors.New("code has expired")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
	ErrInvalidReceiver       = errors.New("receiver is not a valid address")
	ErrInvalidArgument       = errors.New("invalid argument")
)
