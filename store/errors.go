package store

import "fmt"

// ErrNotFound is returned when a record does not exist.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ErrEventExists is returned when creating an event whose UUID is taken.
type ErrEventExists struct {
	UUID string
}

func (e *ErrEventExists) Error() string {
	return fmt.Sprintf("event '%s' already exists", e.UUID)
}

// ErrValidation is returned when a record fails the store's invariants; a
// remote peer surfaces it to the sender as a rejected transfer.
type ErrValidation struct {
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ErrInternal wraps backend failures.
type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal store error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}
