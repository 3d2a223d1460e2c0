// Package apperror provides domain-specific error types for the Nature Risk
// gateway. These errors carry an HTTP status code, a machine-readable type and
// a user-safe message. The Echo error handler maps them to JSON responses.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error types. Clients branch on these instead of sniffing
// message strings.
const (
	TypeNotFound            = "not_found"
	TypeBadRequest          = "bad_request"
	TypeUnauthorized        = "unauthorized"
	TypeTokenExpired        = "token_expired"
	TypeForbidden           = "forbidden"
	TypeConflict            = "conflict"
	TypeValidation          = "validation_error"
	TypeInternal            = "internal_error"
	TypeInvalidCredentials  = "invalid_credentials"
	TypeInvalidFormat       = "invalid_format"
	TypeNoSecretProvisioned = "no_secret_provisioned"
	TypeInvalidCode         = "invalid_code"
	TypeUpstreamUnavailable = "upstream_unavailable"
	TypeTooManyAttempts     = "too_many_attempts"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// --- Constructors for common error types ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{Code: http.StatusNotFound, Type: TypeNotFound, Message: message}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Type: TypeBadRequest, Message: message}
}

// NewUnauthorized creates a 401 Unauthorized error for a missing, malformed
// or otherwise unusable bearer token.
func NewUnauthorized(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Type: TypeUnauthorized, Message: message}
}

// NewTokenExpired creates a 401 error for a token whose expiry has passed.
// Clients treat this type as a signal to discard their stored token.
func NewTokenExpired() *AppError {
	return &AppError{Code: http.StatusUnauthorized, Type: TypeTokenExpired, Message: "The token has expired"}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, Type: TypeForbidden, Message: message}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{Code: http.StatusConflict, Type: TypeConflict, Message: message}
}

// NewValidation creates a 422 Unprocessable Entity error for validation failures.
func NewValidation(message string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Type: TypeValidation, Message: message}
}

// NewInvalidCredentials creates the single 401 error returned for both an
// unknown email and a wrong password.
func NewInvalidCredentials() *AppError {
	return &AppError{Code: http.StatusUnauthorized, Type: TypeInvalidCredentials, Message: "Invalid email or password"}
}

// NewInvalidFormat creates a 400 error for malformed input such as a TOTP
// code that is not six decimal digits.
func NewInvalidFormat(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Type: TypeInvalidFormat, Message: message}
}

// NewNoSecretProvisioned creates a 409 error returned when a TOTP code is
// submitted before a secret was issued for the identity.
func NewNoSecretProvisioned() *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeNoSecretProvisioned,
		Message: "No TOTP secret has been issued for this account",
	}
}

// NewInvalidCode creates a 401 error for a well-formed but wrong TOTP code.
// The caller may retry.
func NewInvalidCode() *AppError {
	return &AppError{Code: http.StatusUnauthorized, Type: TypeInvalidCode, Message: "Invalid 2FA code"}
}

// NewTooManyAttempts creates a 429 error when an identity exceeded its
// failed-attempt budget.
func NewTooManyAttempts() *AppError {
	return &AppError{
		Code:    http.StatusTooManyRequests,
		Type:    TypeTooManyAttempts,
		Message: "Too many failed attempts. Please try again later.",
	}
}

// NewUpstreamUnavailable creates a 502 error for a failed call to a
// downstream service. The cause is kept for logging only.
func NewUpstreamUnavailable(err error) *AppError {
	return &AppError{
		Code:     http.StatusBadGateway,
		Type:     TypeUpstreamUnavailable,
		Message:  "The scoring service is unavailable. Please try again later.",
		Internal: err,
	}
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (e.g. token claims not set by middleware).
func NewMissingContext() *AppError {
	return NewInternal(errMissingContext)
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == errType
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names or query structure.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
