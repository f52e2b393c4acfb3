package errors

import (
	"context"
	"errors"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeDatabase,
				Operation: "account_update",
				Message:   "commit failed",
				Cause:     errors.New("underlying error"),
			},
			expected: "database operation 'account_update' failed: commit failed (caused by: underlying error)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeValidation,
				Operation: "transfer",
				Message:   "amount must be positive",
				Cause:     nil,
			},
			expected: "validation operation 'transfer' failed: amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ServiceError{
		Type:      ErrorTypeNetwork,
		Operation: "test",
		Message:   "test",
		Cause:     cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("ServiceError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := &ServiceError{
		Type:      ErrorTypeConflict,
		Operation: "claim",
		Message:   "challenge already claimed",
	}

	err = err.WithContext("job_id", "j1").WithContext("attempts", 3)

	if len(err.Context) != 2 {
		t.Errorf("Expected 2 context items, got %d", len(err.Context))
	}

	if err.Context["job_id"] != "j1" {
		t.Errorf("Expected job_id = 'j1', got %v", err.Context["job_id"])
	}

	if err.Context["attempts"] != 3 {
		t.Errorf("Expected attempts = 3, got %v", err.Context["attempts"])
	}
}

func TestNew_Retryability(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeValidation, false},
		{ErrorTypeConflict, true},
		{ErrorTypeNotFound, false},
		{ErrorTypeState, false},
		{ErrorTypeAuth, false},
		{ErrorTypeNetwork, true},
		{ErrorTypeKafka, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "msg")
			if err.Retryable != tt.retryable {
				t.Errorf("New(%s) retryable = %v, want %v", tt.errorType, err.Retryable, tt.retryable)
			}
			if err.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(cause, ErrorTypeDatabase, "ledger_credit", "wrapped message")

	if err.Cause != cause {
		t.Errorf("Expected cause to be preserved")
	}

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause through wrapping")
	}

	if Wrap(nil, ErrorTypeDatabase, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_PreservesRetryability(t *testing.T) {
	inner := New(ErrorTypeConflict, "claim", "transaction conflict")
	outer := Wrap(inner, ErrorTypeDatabase, "store", "commit failed")

	if !outer.Retryable {
		t.Error("Wrapping a retryable ServiceError should stay retryable")
	}
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeState, "debit", "insufficient funds")
	wrapped := Wrap(err, ErrorTypeInternal, "handler", "request failed")

	if !IsType(err, ErrorTypeState) {
		t.Error("IsType should match the direct type")
	}

	// The outermost type wins after wrapping
	if IsType(wrapped, ErrorTypeState) {
		t.Error("IsType should report the outermost type")
	}

	if IsType(errors.New("plain"), ErrorTypeState) {
		t.Error("IsType should be false for plain errors")
	}
}

func TestTypeOf(t *testing.T) {
	if got := TypeOf(New(ErrorTypeAuth, "login", "bad token")); got != ErrorTypeAuth {
		t.Errorf("TypeOf = %v, want %v", got, ErrorTypeAuth)
	}

	if got := TypeOf(errors.New("plain")); got != ErrorTypeInternal {
		t.Errorf("TypeOf(plain) = %v, want %v", got, ErrorTypeInternal)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(ErrorTypeConflict, "claim", "lost race")) {
		t.Error("Conflict errors should be retryable")
	}

	if IsRetryable(New(ErrorTypeValidation, "claim", "bad digest")) {
		t.Error("Validation errors should not be retryable")
	}

	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}

	if !IsRetryable(errors.New("connection refused")) {
		t.Error("connection refused should be retryable")
	}
}
