// Package errors provides error code definitions shared across the sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced through logs and events.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Queue errors
	ErrItemNotFound    ErrorCode = "ITEM_NOT_FOUND"
	ErrItemNotParked   ErrorCode = "ITEM_NOT_PARKED"
	ErrItemNotInFlight ErrorCode = "ITEM_NOT_IN_FLIGHT"
	ErrQueueEvicted    ErrorCode = "QUEUE_ITEM_EVICTED"

	// Delivery errors
	ErrSendFailed       ErrorCode = "SEND_FAILED"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrSyncConflict     ErrorCode = "SYNC_CONFLICT"
	ErrOffline          ErrorCode = "OFFLINE"

	// Storage errors
	ErrStorage         ErrorCode = "STORAGE_ERROR"
	ErrSnapshotCorrupt ErrorCode = "SNAPSHOT_CORRUPT"

	// Configuration errors
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Cache errors
	ErrCacheMiss ErrorCode = "CACHE_MISS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
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

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
