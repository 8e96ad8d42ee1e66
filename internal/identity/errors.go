package identity

import (
	"fmt"
	"net/http"
)

// AuthError is a failure reported by the identity backend. Message is
// meant to be shown to the user as-is.
type AuthError struct {
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials = &AuthError{Message: "Invalid login credentials", Status: http.StatusBadRequest}
	ErrUserExists         = &AuthError{Message: "User already registered", Status: http.StatusUnprocessableEntity}
	ErrEmailNotConfirmed  = &AuthError{Message: "Email not confirmed", Status: http.StatusBadRequest}
	ErrEmailRequired      = &AuthError{Message: "Email is required", Status: http.StatusBadRequest}
	ErrInvalidToken       = &AuthError{Message: "Invalid or expired token", Status: http.StatusUnauthorized}
	ErrSessionNotFound    = &AuthError{Message: "Session not found", Status: http.StatusUnauthorized}
)

func weakPasswordError(min int) *AuthError {
	return &AuthError{
		Message: fmt.Sprintf("Password should be at least %d characters.", min),
		Status:  http.StatusUnprocessableEntity,
	}
}
