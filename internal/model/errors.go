package model

import "errors"

var (
	// Registration errors
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")

	// Credential errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrCorruptCredential signals that a stored digest could not be parsed.
	// This is a data integrity failure, not a caller mistake; it is logged
	// and surfaced to clients as a generic authentication failure.
	ErrCorruptCredential = errors.New("corrupt stored credential")

	// Transport/authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
