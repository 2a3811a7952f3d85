package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error kind.
type ErrorCode string

const (
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrDuplicateTaskAPI ErrorCode = "DUPLICATE_TASK"
	ErrDuplicateJobAPI  ErrorCode = "DUPLICATE_JOB"
	ErrGatewayTransport ErrorCode = "GATEWAY_TRANSPORT"
	ErrGatewayRejected  ErrorCode = "GATEWAY_REJECTED"
	ErrPartialPipeline  ErrorCode = "PARTIAL_PIPELINE"
	ErrNotFoundAPI      ErrorCode = "NOT_FOUND"
	ErrInternal         ErrorCode = "INTERNAL_ERROR"
)

// Uniqueness violations surfaced by the store. They are never retried and
// mutate no state.
var (
	ErrDuplicateTask = errors.New("task uuid already tracked")
	ErrDuplicateJob  = errors.New("job id already tracked")
)

// APIError is a structured error returned by the proxy API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports a malformed or missing field in a task request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("invalid task: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("invalid task: %d fields rejected", len(e.Fields))
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFoundAPI,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}
