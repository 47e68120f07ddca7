package service

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means a suggestion's rows were linked by a concurrent accept.
	ErrConflict     = errors.New("conflict")
	ErrInvalidScope = errors.New("invalid scope")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden means the acting user failed the conferente check.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError reports an operation attempted from the wrong lifecycle state.
type StateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
