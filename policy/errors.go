package policy

import "fmt"

// ErrInvalidDistribution is returned for a level outside the closed enum.
// This is a programming or corruption error: callers abort the exchange.
type ErrInvalidDistribution struct {
	Level int
}

func (e *ErrInvalidDistribution) Error() string {
	return fmt.Sprintf("invalid distribution level: %d", e.Level)
}

// ErrMissingSharingGroup is returned when a sharing-group level artifact
// carries no group reference.
type ErrMissingSharingGroup struct{}

func (e *ErrMissingSharingGroup) Error() string {
	return "sharing group distribution without a sharing group reference"
}
