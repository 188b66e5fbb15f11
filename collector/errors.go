package collector

import "fmt"

// ErrNotEligible is returned when the event itself is excluded for the
// requesting side; nothing inside it can cross the link either.
type ErrNotEligible struct {
	UUID   string
	Reason string
}

func (e *ErrNotEligible) Error() string {
	return fmt.Sprintf("event '%s' is not eligible for this exchange: %s", e.UUID, e.Reason)
}

// ErrNotPublished is returned when sync is attempted on an unpublished
// event. Publication is the gate: drafts never leave the node.
type ErrNotPublished struct {
	UUID string
}

func (e *ErrNotPublished) Error() string {
	return fmt.Sprintf("event '%s' is not published", e.UUID)
}
