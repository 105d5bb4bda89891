package memory

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Each typed error below unwraps to one of them.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrCapacity          = errors.New("capacity exceeded")
	ErrAccess            = errors.New("access denied")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown record id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory: %s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError reports a status or outcome change that would move
// backwards.
type InvalidTransitionError struct {
	ID    string
	Field string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("memory: decision %q: %s cannot change from %s to %s", e.ID, e.Field, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// CapacityError reports a write that cannot fit in the byte budget even after
// eviction.
type CapacityError struct {
	Need   int64
	Budget int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("memory: record of %d bytes does not fit budget of %d bytes", e.Need, e.Budget)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// AccessError reports a missing or wrong encryption key. The Store that
// produced it must not be used.
type AccessError struct {
	Project string
	Reason  string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("memory: project %q: %s", e.Project, e.Reason)
}

func (e *AccessError) Unwrap() error { return ErrAccess }
