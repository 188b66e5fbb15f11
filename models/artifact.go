package models

// Attribute is a committed indicator on an event. An attribute inside an
// object references it through ObjectUUID and, when its own distribution is
// Inherit, takes the object's effective level rather than the event's.
//
// Deleted marks a soft-deleted attribute. Deletions propagate: a receiver
// that already holds the attribute replaces it with the tombstone.
type Attribute struct {
	UUID         string       `json:"uuid"`
	EventUUID    string       `json:"event_uuid"`
	ObjectUUID   string       `json:"object_uuid,omitempty"`
	Category     string       `json:"category"`
	Type         string       `json:"type"`
	Value        string       `json:"value"`
	Distribution Distribution `json:"distribution"`
	Deleted      bool         `json:"deleted,omitempty"`
}

type Object struct {
	UUID         string       `json:"uuid"`
	EventUUID    string       `json:"event_uuid"`
	Name         string       `json:"name"`
	MetaCategory string       `json:"meta_category,omitempty"`
	Distribution Distribution `json:"distribution"`
	Attributes   []Attribute  `json:"attributes,omitempty"`
}

type EventReport struct {
	UUID         string       `json:"uuid"`
	EventUUID    string       `json:"event_uuid"`
	Name         string       `json:"name"`
	Content      string       `json:"content"`
	Distribution Distribution `json:"distribution"`
}
