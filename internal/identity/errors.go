package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when a project has no published identity store.
	ErrNotTrained = errors.New("project has no trained identities")
	// ErrEmptyStore is returned when a store holds no vectors.
	ErrEmptyStore = errors.New("identity store is empty")
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrSuperseded is returned by Publish when a newer version won the swap.
	ErrSuperseded = errors.New("a newer identity version was published")
)

// ValidationError describes rejected input: a bad vector, name or query.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional underlying sentinel (e.g. ErrEmptyStore)
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
