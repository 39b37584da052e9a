// Package errors provides the typed application error used across eventpipe,
// mapping each error kind to HTTP-style status codes and to whether the
// dispatcher's retry policy should treat it as transient.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an AppError for retry and status-code decisions.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeCorruptData  ErrorType = "corrupt_data"
	ErrorTypeDatabase     ErrorType = "database"
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeInternal     ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:  http.StatusBadRequest,
	ErrorTypeAuth:        http.StatusUnauthorized,
	ErrorTypeNotFound:    http.StatusNotFound,
	ErrorTypeConflict:    http.StatusConflict,
	ErrorTypeTimeout:     http.StatusRequestTimeout,
	ErrorTypeRateLimit:   http.StatusTooManyRequests,
	ErrorTypeUnavailable: http.StatusServiceUnavailable,
	ErrorTypeCorruptData: http.StatusUnprocessableEntity,
	ErrorTypeDatabase:    http.StatusInternalServerError,
	ErrorTypeNetwork:     http.StatusInternalServerError,
	ErrorTypeInternal:    http.StatusInternalServerError,
}

// retryable holds the error kinds the dispatcher's backoff (pkg/retry)
// will retry: spec §7's TransientTimeout / TransientServerError /
// TransientRateLimit. Everything else is permanent and goes straight to
// queue.Fail's own max-retries/DLQ accounting without a pkg/retry loop.
var retryable = map[ErrorType]bool{
	ErrorTypeTimeout:     true,
	ErrorTypeRateLimit:   true,
	ErrorTypeUnavailable: true,
}

// AppError is eventpipe's structured error type.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

// New creates an AppError of the given type with no cause.
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodes[errType],
	}
}

// Wrap creates an AppError of the given type around an existing error.
func Wrap(cause error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodes[errType],
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, errType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, errType, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional context, modifying the receiver in place
// and returning it for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted message.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// IsRetryable reports whether err should be retried by pkg/retry's backoff.
// A plain (non-AppError) error is treated as non-retryable — callers that
// want retry-by-default must wrap their error in an AppError first.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return retryable[appErr.Type]
	}
	return false
}

// Predefined constructors mirroring the common error sites in the pipeline.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewRateLimitError(action string) *AppError {
	return New(ErrorTypeRateLimit, fmt.Sprintf("rate limit exceeded: %s", action))
}

func NewUnavailableError(service string, cause error) *AppError {
	return Wrap(cause, ErrorTypeUnavailable, fmt.Sprintf("service unavailable: %s", service))
}

func NewCorruptDataError(path string, cause error) *AppError {
	return Wrap(cause, ErrorTypeCorruptData, fmt.Sprintf("corrupt data: %s", path))
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message)
}
