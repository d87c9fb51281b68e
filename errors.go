package authcore

import (
	"fmt"
	"net/http"
)

// Authorization error codes as constants
const (
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeTokenExpired      = "expired"
	ErrorCodeInvalidAudience   = "invalid_audience"
	ErrorCodeInsufficientScope = "insufficient_scope"
	ErrorCodeInvalidTarget     = "invalid_target"
	ErrorCodeInvalidClient     = "invalid_client"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeServerError       = "server_error"
)

// AuthError represents a protocol-level authorization error response
type AuthError struct {
	Code        string // error code (e.g., "invalid_token", "invalid_target")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAuthError creates a new authorization error
func NewAuthError(code, description string, status int) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common authorization errors as reusable constructors
var (
	// ErrInvalidToken indicates the access token is malformed, tampered, or signed with the wrong key
	ErrInvalidToken = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrTokenExpired indicates the access token is past its expiry
	ErrTokenExpired = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeTokenExpired, desc, http.StatusUnauthorized)
	}

	// ErrInvalidAudience indicates the token was minted for a different resource
	ErrInvalidAudience = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidAudience, desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates the token lacks a scope required by the operation
	ErrInsufficientScope = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrInvalidTarget indicates an unsupported or malformed resource indicator (RFC 8707)
	ErrInvalidTarget = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidTarget, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrServerError indicates an internal error occurred
	ErrServerError = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
