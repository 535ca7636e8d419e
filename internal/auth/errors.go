package auth

import "errors"

// Closed set of failure modes the services return. The HTTP boundary maps
// each one to a status code and message; anything outside this set is an
// internal error.
var (
	ErrTokenNotFound   = errors.New("verification token not found")
	ErrTokenUsed       = errors.New("verification token already used")
	ErrTokenExpired    = errors.New("verification token expired")
	ErrAlreadyVerified = errors.New("email already verified")

	ErrCodeFormat          = errors.New("code must be a 6-digit number")
	ErrInvalidCode         = errors.New("invalid one-time code")
	ErrTwoFactorEnabled    = errors.New("two-factor authentication already enabled")
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")

	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)
