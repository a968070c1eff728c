package auth

import "errors"

var (
	// ErrInvalidToken is returned for malformed, expired, or mistyped access tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidCredentials is returned when username/password verification fails.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidRefreshToken is returned when a refresh token is unknown, revoked, or expired.
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
)
