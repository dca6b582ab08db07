package workflow

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a workflow error for
// retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed input: unknown workflow,
	// unknown transition, or a transition that does not apply to the
	// instance's current state.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates a referenced entity does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassEvaluation indicates a guard or action document failed
	// to evaluate against the instance snapshot.
	ErrorClassEvaluation ErrorClass = "evaluation"

	// ErrorClassConflict indicates an optimistic concurrency failure.
	// Safe to retry after re-reading the instance.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassIntegrity indicates the journal chain for the entity is
	// quarantined and writes are refused.
	ErrorClassIntegrity ErrorClass = "integrity"

	// ErrorClassInternal indicates a storage or infrastructure failure.
	ErrorClassInternal ErrorClass = "internal"
)

// Error represents a classified workflow error with context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Workflow is the workflow code, if applicable.
	Workflow string `json:"workflow,omitempty"`

	// EntityRef is the entity reference that caused the error, if applicable.
	EntityRef string `json:"entity_ref,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityRef != "" {
		return fmt.Sprintf("[%s] %s (workflow=%s, entity=%s): %s",
			e.Class, e.Message, e.Workflow, e.EntityRef, e.unwrapMessage())
	}
	if e.Workflow != "" {
		return fmt.Sprintf("[%s] %s (workflow=%s): %s",
			e.Class, e.Message, e.Workflow, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewEvaluationError creates a new evaluation error.
func NewEvaluationError(message string, err error) *Error {
	return &Error{Class: ErrorClassEvaluation, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewIntegrityError creates a new integrity error.
func NewIntegrityError(message string, err error) *Error {
	return &Error{Class: ErrorClassIntegrity, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *Error {
	return &Error{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithWorkflow adds workflow context to an error.
func (e *Error) WithWorkflow(code string) *Error {
	e.Workflow = code
	return e
}

// WithEntity adds entity context to an error.
func (e *Error) WithEntity(entityRef string) *Error {
	e.EntityRef = entityRef
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassNotFound
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsIntegrity returns true if the error is classified as an integrity failure.
func IsIntegrity(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassIntegrity
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Only conflict errors are retryable; everything else requires
// operator or caller intervention.
func IsRetryable(err error) bool {
	return IsConflict(err)
}

// Common error codes.
const (
	ErrCodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	ErrCodeInstanceNotFound  = "INSTANCE_NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeTerminalState     = "TERMINAL_STATE"
	ErrCodeVersionConflict   = "VERSION_CONFLICT"
	ErrCodeGuardFailed       = "GUARD_FAILED"
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeChainQuarantined  = "CHAIN_QUARANTINED"
	ErrCodeStorageFailed     = "STORAGE_FAILED"
)
