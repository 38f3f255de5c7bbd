// Package errors provides the error taxonomy shared by the client core and the API handlers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can cross the client/window boundary.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors: durable store unavailable, quota exceeded or schema corrupted.
	ErrStorage   ErrorCode = "STORAGE_FAILURE"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Network errors: fetch rejected or timed out.
	ErrNetwork ErrorCode = "NETWORK_FAILURE"

	// Upstream errors: an external dependency answered with a non-success status.
	ErrUpstream ErrorCode = "UPSTREAM_ERROR"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// ErrNotImplemented marks stub operations whose result does not reflect real state.
	ErrNotImplemented ErrorCode = "PLACEHOLDER_NOT_IMPLEMENTED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	// Status carries the HTTP status of an upstream failure, zero otherwise.
	Status int
	Err    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Upstream builds an ErrUpstream error carrying the upstream HTTP status.
func Upstream(status int, message string) *AppError {
	return &AppError{
		Code:    ErrUpstream,
		Message: message,
		Status:  status,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// StatusOf returns the upstream HTTP status recorded in err's chain, or zero.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}
