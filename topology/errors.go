package topology

import "fmt"

type ErrLinkNotFound struct {
	Name string
}

func (e *ErrLinkNotFound) Error() string {
	return fmt.Sprintf("no link named '%s'", e.Name)
}

type ErrInvalidLink struct {
	Reason string
}

func (e *ErrInvalidLink) Error() string {
	return fmt.Sprintf("invalid link: %s", e.Reason)
}
