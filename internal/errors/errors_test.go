package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestRoamError_Error(t *testing.T) {
	err := &RoamError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "itinerary not found",
	}

	expected := "NOT_FOUND: itinerary not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("destination is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "destination is required" {
		t.Errorf("Message = %q, want %q", err.Message, "destination is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("itineraries", "01ABC")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["key"] != "01ABC" {
		t.Errorf("Details[key] = %v, want %q", err.Details["key"], "01ABC")
	}
	if err.Details["collection"] != "itineraries" {
		t.Errorf("Details[collection] = %v, want %q", err.Details["collection"], "itineraries")
	}
}

func TestStorageErrors(t *testing.T) {
	cause := fmt.Errorf("permission denied")

	tests := []struct {
		name   string
		err    *RoamError
		code   ErrorCode
		status int
	}{
		{"unavailable", NewStorageUnavailable(cause), ErrStorageUnavailable, 503},
		{"not ready", NewStorageNotReady(), ErrStorageNotReady, 503},
		{"write failed", NewStorageWriteFailed("api_cache", cause), ErrStorageWriteFailed, 507},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestNewSyncItemFailed(t *testing.T) {
	err := NewSyncItemFailed("itinerary", "01XYZ", 500)

	if err.Code != ErrSyncItemFailed {
		t.Errorf("Code = %q, want %q", err.Code, ErrSyncItemFailed)
	}
	if err.Details["remote_status"] != 500 {
		t.Errorf("Details[remote_status] = %v, want 500", err.Details["remote_status"])
	}
	if err.Details["id"] != "01XYZ" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "01XYZ")
	}
}

func TestNewNetworkUnavailable_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := NewNetworkUnavailable(cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("database connection failed"))

	if err.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Message != "database connection failed" {
		t.Errorf("Message = %q, want %q", err.Message, "database connection failed")
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)

	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     ErrorCode
		expected bool
	}{
		{"matching code", NewStorageNotReady(), ErrStorageNotReady, true},
		{"different code", NewStorageNotReady(), ErrNotFound, false},
		{"wrapped", fmt.Errorf("sync: %w", NewNetworkUnavailable(nil)), ErrNetworkUnavailable, true},
		{"non-roam error", fmt.Errorf("plain"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("items[2]: %w", NewInvalidRequest("bad"))

	rErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() should find the wrapped RoamError")
	}
	if rErr.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", rErr.Code, ErrInvalidRequest)
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As() should not match a plain error")
	}
}
