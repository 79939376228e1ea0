package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNotFoundOrForbidden hides whether a device exists from callers without access.
	ErrNotFoundOrForbidden = errors.New("auth: device not found or no access")
)
