// Package engine implements the convergence core: declared resources are
// validated, inspected, diffed into an ordered plan, and applied through
// pluggable backends.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies engine errors for recovery and exit-code decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad declarations. Fatal before any
	// backend call is made.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPlan indicates an internal planning invariant was violated.
	ErrorClassPlan ErrorClass = "plan"

	// ErrorClassBackend indicates a specific action's query or apply failed.
	// Recovered at the run level: recorded, dependents skipped.
	ErrorClassBackend ErrorClass = "backend"

	// ErrorClassTimeout is a backend failure caused by a deadline expiring.
	ErrorClassTimeout ErrorClass = "timeout"
)

// Violation is a single validation problem. Validation reports every
// violation found, not just the first, so the operator can fix a
// declaration set in one pass.
type Violation struct {
	// Kind is the resource kind the violation belongs to, if any.
	Kind Kind `json:"kind,omitempty"`

	// Resource is the resource identifier, if the violation is scoped to one.
	Resource string `json:"resource,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Resource != "" {
		return fmt.Sprintf("%s/%s: %s", v.Kind, v.Resource, v.Message)
	}
	return v.Message
}

// ValidationError aggregates every violation found in a declaration set.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid declarations (%d violations): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// NewValidationError creates a ValidationError from the collected violations.
func NewValidationError(violations []Violation) *ValidationError {
	return &ValidationError{Violations: violations}
}

// EngineError is a classified error with optional resource context.
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource identifier that caused the error, if any.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Resource != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Class, e.Message, e.Resource, e.Err)
		}
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(id string) *EngineError {
	e.Resource = id
	return e
}

// NewPlanError creates an error for a planning invariant violation.
func NewPlanError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPlan, Message: message, Err: err}
}

// NewBackendError creates an error for a failed backend query or apply.
func NewBackendError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassBackend, Message: message, Err: err}
}

// NewTimeoutError creates an error for a backend call that exceeded its deadline.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Message: message, Err: err}
}

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsPlan returns true if err is classified as a planning error.
func IsPlan(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassPlan
}

// IsBackend returns true if err is classified as a backend or timeout failure.
func IsBackend(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && (e.Class == ErrorClassBackend || e.Class == ErrorClassTimeout)
}

// IsTimeout returns true if err is classified as a timeout.
func IsTimeout(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassTimeout
}
