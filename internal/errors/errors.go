package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeNotAuthenticated    ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeAuthStateMismatch   ErrorCode = "AUTH_STATE_MISMATCH"
	ErrCodeTokenExchangeFailed ErrorCode = "TOKEN_EXCHANGE_FAILED"
	ErrCodeTokenRefreshFailed  ErrorCode = "TOKEN_REFRESH_FAILED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"

	// Canvas resources
	ErrCodeResourceFetchFailed ErrorCode = "RESOURCE_FETCH_FAILED"
	ErrCodeDegradedFetch       ErrorCode = "DEGRADED_FETCH"
	ErrCodeMutationFailed      ErrorCode = "MUTATION_FAILED"
	ErrCodeUnsupportedMutation ErrorCode = "UNSUPPORTED_MUTATION"

	// Validation
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// Unauthorized means the caller holds no valid credential for the profile,
// as opposed to NotAuthenticated which is about the Canvas session.
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotAuthenticated() *AppError {
	return New(ErrCodeNotAuthenticated, "Not signed in to Canvas")
}

func AuthStateMismatch() *AppError {
	return New(ErrCodeAuthStateMismatch, "OAuth state does not match the pending login")
}

func TokenExchangeFailed(cause error) *AppError {
	return Wrap(ErrCodeTokenExchangeFailed, "Failed to exchange authorization code", cause)
}

func TokenRefreshFailed(cause error) *AppError {
	return Wrap(ErrCodeTokenRefreshFailed, "Failed to refresh access token", cause)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func ResourceFetchFailed(resource string, cause error) *AppError {
	return Wrap(ErrCodeResourceFetchFailed, fmt.Sprintf("Failed to fetch %s", resource), cause)
}

func DegradedFetch(resource string, cause error) *AppError {
	return Wrap(ErrCodeDegradedFetch, fmt.Sprintf("%s unavailable, continuing without it", resource), cause)
}

func MutationFailed(cause error) *AppError {
	return Wrap(ErrCodeMutationFailed, "Failed to update task", cause)
}

func UnsupportedMutation(taskID string) *AppError {
	return New(ErrCodeUnsupportedMutation, fmt.Sprintf("Task %s can only be completed by submitting it in Canvas", taskID))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
