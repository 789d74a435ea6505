package auth

import "errors"

// Verification errors. All of them reject the connection attempt at the
// gate; none is retried.
var (
	ErrMissingToken = errors.New("authentication error: no token provided")
	ErrInvalidToken = errors.New("authentication error: invalid token")
	ErrUserNotFound = errors.New("authentication error: user not found")
)

// Login errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
)
