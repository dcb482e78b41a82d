package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrValidationFailed       = errors.New("validation failed")
	ErrAccessDenied           = errors.New("access denied")
)

// NotFoundError names a missing process, subprocess or unit.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError reports an operation that is not legal in the entity's
// current situation.
type TransitionError struct {
	Entity    string
	ID        string
	Unit      string
	Situation string
	Operation string
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Entity, e.ID)
	if e.Unit != "" {
		fmt.Fprintf(&b, " (unit %s)", e.Unit)
	}
	fmt.Fprintf(&b, " in situation %s does not allow %s", e.Situation, e.Operation)
	return b.String()
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// ValidationError aggregates every rule violation found by one operation.
type ValidationError struct {
	Violations []string
}

func NewValidation(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrValidationFailed.Error()
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Violations collects rule violations before deciding whether to fail.
type Violations []string

func (v *Violations) Add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

// AddList records message followed by a comma separated list, skipping empty lists.
func (v *Violations) AddList(message string, items []string) {
	if len(items) == 0 {
		return
	}
	*v = append(*v, message+": "+strings.Join(items, ", "))
}

func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return &ValidationError{Violations: out}
}

// ViolationsOf extracts the messages of a validation error, or nil.
func ViolationsOf(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Violations
	}
	return nil
}
