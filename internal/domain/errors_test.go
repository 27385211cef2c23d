package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Validation error",
			code:      ErrCodeValidation,
			message:   "Missing intake fields",
			details:   "email is required",
			requestID: "req-123",
		},
		{
			name:      "Sealed error",
			code:      ErrCodeAlreadySealed,
			message:   "Peer review already sealed",
			details:   "record rec-1",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("required", "email", "weight_kg")

	expected := "validation error for fields 'email', 'weight_kg': required"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should unwrap to ErrValidation")
	}

	var target *ValidationError
	wrapped := fmt.Errorf("submitting intake: %w", err)
	if !errors.As(wrapped, &target) {
		t.Fatal("Expected errors.As to find ValidationError")
	}
	if len(target.Fields) != 2 || target.Fields[0] != "email" {
		t.Errorf("Unexpected fields %v", target.Fields)
	}
}

func TestSubmissionFailedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &SubmissionFailedError{
		Payload:      IntakeSubmission{FirstName: "Ada", LastName: "Byron"},
		ReferrerSlug: "dr-who",
		Cause:        cause,
	}

	if !errors.Is(err, ErrSubmissionFailed) {
		t.Error("Expected errors.Is(err, ErrSubmissionFailed)")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is(err, cause)")
	}
	if err.Payload.FirstName != "Ada" {
		t.Errorf("Payload should be preserved, got %+v", err.Payload)
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		message  string
	}{
		{"Already sealed", &AlreadySealedError{RecordID: "rec-1"}, ErrAlreadySealed, "peer review rec-1 is already sealed"},
		{"Not found", NewNotFoundError("review_task", "task-9"), ErrNotFound, "review_task task-9 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("Expected %v to unwrap to %v", tt.err, tt.sentinel)
			}
			if tt.err.Error() != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, tt.err.Error())
			}
		})
	}
}
