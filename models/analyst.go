package models

import "time"

/*
	Sightings and analyst notes hang off an event but live outside the event
	document: they are only exchanged by full-scope sync, never by an
	event-scoped push or pull.
*/

type Sighting struct {
	UUID          string       `json:"uuid"`
	EventUUID     string       `json:"event_uuid"`
	AttributeUUID string       `json:"attribute_uuid,omitempty"`
	OrgID         string       `json:"org_id"`
	Distribution  Distribution `json:"distribution"`
	SeenAt        time.Time    `json:"seen_at"`
}

type AnalystNote struct {
	UUID         string       `json:"uuid"`
	EventUUID    string       `json:"event_uuid"`
	OrgID        string       `json:"org_id"`
	Note         string       `json:"note"`
	Distribution Distribution `json:"distribution"`
	CreatedAt    time.Time    `json:"created_at"`
}
