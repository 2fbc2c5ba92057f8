package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Roam error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"            // 404
	ErrInvalidState       ErrorCode = "INVALID_STATE"        // 409
	ErrInternal           ErrorCode = "INTERNAL"             // 500
	ErrSyncItemFailed     ErrorCode = "SYNC_ITEM_FAILED"     // 502
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"  // 503
	ErrStorageNotReady    ErrorCode = "STORAGE_NOT_READY"    // 503
	ErrNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"  // 503
	ErrStorageWriteFailed ErrorCode = "STORAGE_WRITE_FAILED" // 507
)

// RoamError represents a structured error with code, status, and details.
type RoamError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *RoamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *RoamError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *RoamError {
	return &RoamError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(collection, key string) *RoamError {
	return &RoamError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", collection, key),
		Details: map[string]any{"collection": collection, "key": key},
	}
}

// NewInvalidState creates a 409 error for an operation that is not legal in
// the current lifecycle state.
func NewInvalidState(msg string) *RoamError {
	return &RoamError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: msg,
	}
}

// NewStorageUnavailable creates a 503 error when the platform denies storage access.
func NewStorageUnavailable(err error) *RoamError {
	return &RoamError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: fmt.Sprintf("local storage unavailable: %v", err),
		Err:     err,
	}
}

// NewStorageNotReady creates a 503 error for operations issued before initialization.
func NewStorageNotReady() *RoamError {
	return &RoamError{
		Code:    ErrStorageNotReady,
		Status:  503,
		Message: "local storage is not initialized",
	}
}

// NewStorageWriteFailed creates a 507 error for serialization or quota failures.
func NewStorageWriteFailed(collection string, err error) *RoamError {
	return &RoamError{
		Code:    ErrStorageWriteFailed,
		Status:  507,
		Message: fmt.Sprintf("write to %s failed: %v", collection, err),
		Details: map[string]any{"collection": collection},
		Err:     err,
	}
}

// NewNetworkUnavailable creates a 503 error for a failed network round trip.
func NewNetworkUnavailable(err error) *RoamError {
	return &RoamError{
		Code:    ErrNetworkUnavailable,
		Status:  503,
		Message: fmt.Sprintf("network unavailable: %v", err),
		Err:     err,
	}
}

// NewSyncItemFailed creates a 502 error when the remote rejects a single item.
func NewSyncItemFailed(kind, id string, status int) *RoamError {
	return &RoamError{
		Code:    ErrSyncItemFailed,
		Status:  502,
		Message: fmt.Sprintf("%s %s rejected by remote (HTTP %d)", kind, id, status),
		Details: map[string]any{"kind": kind, "id": id, "remote_status": status},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *RoamError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &RoamError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is (or wraps) a RoamError with the given code.
func Is(err error, code ErrorCode) bool {
	var rErr *RoamError
	if stderrors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// As extracts the RoamError from an error chain.
func As(err error) (*RoamError, bool) {
	var rErr *RoamError
	if stderrors.As(err, &rErr) {
		return rErr, true
	}
	return nil, false
}
