package identity

import "errors"

var (
	// ErrUserNotFound is returned when a user id or username does not exist.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("identity: username taken")
)
