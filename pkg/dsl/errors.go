package dsl

import "fmt"

// ValidationError reports a malformed or non-whitelisted rule
// document. Validation errors are raised at author time; a rule that
// fails validation is never bound to a transition and never reaches
// runtime evaluation.
type ValidationError struct {
	// Op is the operator of the offending node, if known.
	Op Op `json:"op,omitempty"`

	// Path is the reference path involved, if any.
	Path string `json:"path,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("invalid rule: %s (op=%s, path=%s)", e.Message, e.Op, e.Path)
	case e.Op != "":
		return fmt.Sprintf("invalid rule: %s (op=%s)", e.Message, e.Op)
	case e.Path != "":
		return fmt.Sprintf("invalid rule: %s (path=%s)", e.Message, e.Path)
	default:
		return fmt.Sprintf("invalid rule: %s", e.Message)
	}
}

// EvaluationError reports a runtime evaluation failure: an
// unresolvable reference or a type mismatch that static validation
// could not rule out. An evaluation error fails the whole evaluation;
// references never silently default.
type EvaluationError struct {
	// Path is the reference path that failed to resolve, if any.
	Path string `json:"path,omitempty"`

	// Op is the operator being evaluated.
	Op Op `json:"op,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("evaluation failed: %s (path=%s)", e.Message, e.Path)
	}
	return fmt.Sprintf("evaluation failed: %s (op=%s)", e.Message, e.Op)
}
