package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the store.
type ErrorCode string

// Storage and model error codes.
const (
	ErrModelNotFound     ErrorCode = "MODEL_NOT_FOUND"
	ErrModelNotFitted    ErrorCode = "MODEL_NOT_FITTED"
	ErrCorruptedArtifact ErrorCode = "CORRUPTED_ARTIFACT"
	ErrLockTimeout       ErrorCode = "LOCK_TIMEOUT"
	ErrUnsupportedType   ErrorCode = "UNSUPPORTED_TYPE"
	ErrInvalidSeriesKey  ErrorCode = "INVALID_SERIES_KEY"
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrStorage           ErrorCode = "STORAGE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, or "" if the error
// carries no code.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
