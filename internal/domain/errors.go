package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can use errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySealed    = errors.New("peer review already sealed")
	ErrValidation       = errors.New("validation failed")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrTaskClosed       = errors.New("task already completed")
	ErrNoVerdict        = errors.New("no verdict cast")
)

// APIError represents a standardized error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   string            `json:"details,omitempty"`
	Fields    []string          `json:"fields,omitempty"`
	Payload   *IntakeSubmission `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeSubmissionFailed = "SUBMISSION_FAILED"
	ErrCodeAlreadySealed    = "ALREADY_SEALED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTaskClosed       = "TASK_CLOSED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError names every missing or invalid intake field. Submissions that
// fail validation are rejected wholesale.
type ValidationError struct {
	Fields  []string `json:"fields"`
	Message string   `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error for fields '%s': %s", strings.Join(e.Fields, "', '"), e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a new ValidationError
func NewValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{
		Fields:  fields,
		Message: message,
	}
}

// SubmissionFailedError is returned when persistence fails after validation passed.
// It carries the validated payload so the caller can retry without re-prompting.
type SubmissionFailedError struct {
	Payload      IntakeSubmission
	ReferrerSlug string
	Cause        error
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("intake submission failed: %v", e.Cause)
}

func (e *SubmissionFailedError) Unwrap() []error {
	return []error{ErrSubmissionFailed, e.Cause}
}

// AlreadySealedError reports a mutation attempt on a Completed PeerReviewRecord.
// It is terminal and not retryable.
type AlreadySealedError struct {
	RecordID string
}

func (e *AlreadySealedError) Error() string {
	return fmt.Sprintf("peer review %s is already sealed", e.RecordID)
}

func (e *AlreadySealedError) Unwrap() error { return ErrAlreadySealed }

// NotFoundError reports an operation on a nonexistent record or task.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}
