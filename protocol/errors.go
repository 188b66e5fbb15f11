package protocol

import "fmt"

// ErrLinkDisabled is returned when an exchange is attempted over a link not
// configured for that direction.
type ErrLinkDisabled struct {
	Name      string
	Direction string
}

func (e *ErrLinkDisabled) Error() string {
	return fmt.Sprintf("link '%s' is not enabled for %s", e.Name, e.Direction)
}

// ErrStoreRejected is returned when the receiving side refuses a transfer.
// The whole set was rejected; nothing landed.
type ErrStoreRejected struct {
	UUID string
	Err  error
}

func (e *ErrStoreRejected) Error() string {
	return fmt.Sprintf("remote rejected event '%s': %v", e.UUID, e.Err)
}

func (e *ErrStoreRejected) Unwrap() error {
	return e.Err
}

// ErrRemoteUnavailable wraps a failure to reach or converse with a remote.
type ErrRemoteUnavailable struct {
	Name string
	Err  error
}

func (e *ErrRemoteUnavailable) Error() string {
	return fmt.Sprintf("remote '%s' unavailable: %v", e.Name, e.Err)
}

func (e *ErrRemoteUnavailable) Unwrap() error {
	return e.Err
}
