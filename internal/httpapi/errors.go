// Package httpapi is the thin HTTP boundary: routing, request decoding, the
// response envelopes, and the mapping from domain errors to the wire taxonomy.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/I0I-I0I/messenger-server/internal/auth"
	"github.com/I0I-I0I/messenger-server/internal/chat"
	"github.com/I0I-I0I/messenger-server/internal/identity"
	"github.com/I0I-I0I/messenger-server/internal/syncview"
)

// Error is the wire-visible failure: status plus a stable code, emitted
// verbatim in the error envelope.
type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// NewError builds an Error.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetails attaches structured details to the envelope.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func validationError(details any) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    "validation_error",
		Message: "Request validation failed",
		Details: details,
	}
}

// FromDomain maps service-layer errors onto the taxonomy. Unknown errors
// become internal_error; callers log them before mapping.
func FromDomain(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return NewError(http.StatusUnauthorized, "invalid_token", "Invalid or expired access token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return NewError(http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		return NewError(http.StatusUnauthorized, "invalid_refresh_token", "Refresh token is invalid or expired")
	case errors.Is(err, identity.ErrUsernameTaken):
		return NewError(http.StatusConflict, "username_taken", "Username is already in use")
	case errors.Is(err, identity.ErrUserNotFound):
		return NewError(http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, chat.ErrConversationNotFound):
		return NewError(http.StatusNotFound, "conversation_not_found", "Conversation not found")
	case errors.Is(err, chat.ErrClientMessageConflict):
		return NewError(http.StatusConflict, "client_message_conflict", "client_message_id already used for a different conversation")
	case errors.Is(err, chat.ErrSelfConversation):
		return NewError(http.StatusBadRequest, "invalid_target", "Cannot create direct conversation with yourself")
	case errors.Is(err, syncview.ErrInvalidAfterSeq):
		return NewError(http.StatusUnprocessableEntity, "invalid_after_seq", "Invalid after_seq_by_conversation format")
	default:
		return NewError(http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
