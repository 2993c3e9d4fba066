package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds shared by the security services. Call sites wrap these
// with %w so callers can classify failures without parsing messages.
var (
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrExpired indicates a state or token past its TTL.
	ErrExpired = errors.New("expired")
	// ErrRevoked indicates an explicitly revoked token or session.
	ErrRevoked = errors.New("revoked")
	// ErrIntegrity indicates a signature or authentication-tag mismatch.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrNotFound indicates an unknown key id, session or state.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration indicates a missing required secret at startup.
	ErrConfiguration = errors.New("configuration invalid")
)

// AuthError is the boundary error handed to the transport layer. Description is
// always generic; the underlying cause stays in logs and wrapped errors.
type AuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func NewAuthError(code, desc string, status int) *AuthError {
	return &AuthError{Code: code, Description: desc, Status: status}
}
