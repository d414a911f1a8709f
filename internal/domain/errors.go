package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the evaluation lifecycle. Every failure surfaced by the
// engine is one of these four kinds; the API layer maps them to status codes
// and nothing here ever crashes the process.

// ValidationError reports malformed or incomplete input, rejected before any
// mutation takes place.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StateError reports a transition attempted from a status that does not
// permit it. Current and required states are always identified.
type StateError struct {
	Current  Status
	Required Status
	Op       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state: %s requires status %s, evaluation is %s", e.Op, e.Required, e.Current)
}

// NewStateError builds a StateError for the given operation.
func NewStateError(op string, current, required Status) *StateError {
	return &StateError{Op: op, Current: current, Required: required}
}

// AuthorizationError reports a caller whose secretariat or role does not
// match the target. Deliberately carries no detail about the target.
type AuthorizationError struct{}

func (e *AuthorizationError) Error() string {
	return "forbidden"
}

// NotFoundError reports an unknown evaluation, response or session id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given entity and id.
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsState reports whether err is (or wraps) a StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsAuthorization reports whether err is (or wraps) an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
