// Package apperror provides domain-specific error types for the review engine.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to appropriate HTTP responses automatically, and
// the CLI maps them to exit codes.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
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

	// Owner identifies the holder of a conflicting lock. Only set on
	// "locked" errors.
	Owner *LockOwner `json:"owner,omitempty"`

	// Fields holds per-field messages for validation failures.
	Fields map[string]string `json:"fields,omitempty"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// LockOwner is the user currently holding an editorial lock.
type LockOwner struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
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

// Error type identifiers. Callers compare against these through Is.
const (
	TypeNotFound         = "not_found"
	TypeBadRequest       = "bad_request"
	TypeUnauthorized     = "unauthorized"
	TypeForbidden        = "forbidden"
	TypeConflict         = "conflict"
	TypeInvalidState     = "invalid_state"
	TypeLocked           = "locked"
	TypeValidationFailed = "validation_error"
	TypeTransient        = "transient_store_error"
	TypeInternal         = "internal_error"
)

// --- Constructors for common error types ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeBadRequest,
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error. Raised when the permission
// resolver denies an operation.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error. The workflow uses it when
// another version of the same code is already in review.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeConflict,
		Message: message,
	}
}

// NewInvalidState creates a 409 error for transitions whose precondition
// status does not match the questionnaire's current status.
func NewInvalidState(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeInvalidState,
		Message: message,
	}
}

// NewLocked creates a 423 Locked error naming the user who holds the lock.
func NewLocked(ownerID, ownerName string) *AppError {
	name := ownerName
	if name == "" {
		name = ownerID
	}
	return &AppError{
		Code:    http.StatusLocked,
		Type:    TypeLocked,
		Message: fmt.Sprintf("this questionnaire is currently being edited by %s", name),
		Owner:   &LockOwner{UserID: ownerID, DisplayName: ownerName},
	}
}

// NewValidation creates a 422 Unprocessable Entity error for validation failures.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeValidationFailed,
		Message: message,
	}
}

// NewValidationFailed creates a 422 error carrying field-level messages from
// the content validator.
func NewValidationFailed(fields map[string]string) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeValidationFailed,
		Message: "the submitted data is not valid",
		Fields:  fields,
	}
}

// NewTransient creates a 503 error for store failures that were rolled back
// and may be retried by the caller.
func NewTransient(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeTransient,
		Message:  "The operation could not be completed. Please retry.",
		Internal: err,
	}
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (e.g. questionnaire context not set, dependency not wired).
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

// Is reports whether err is an AppError of the given type.
func Is(err error, errType string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message.
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
