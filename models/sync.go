package models

import "time"

/*
	Wire payloads for the sync protocol. A PropagationSet is everything one
	exchange transfers for a single event: the (possibly already downgraded)
	event plus the definitions the receiver needs to resolve attachments.

	Sightings and notes are present only when the exchange is full scope.
*/

type PropagationSet struct {
	Event    *Event          `json:"event"`
	TagDefs  []TagDefinition `json:"tag_defs,omitempty"`
	Galaxies []Galaxy        `json:"galaxies,omitempty"`
	Clusters []GalaxyCluster `json:"clusters,omitempty"`
	Groups   []SharingGroup  `json:"groups,omitempty"`

	Sightings []Sighting    `json:"sightings,omitempty"`
	Notes     []AnalystNote `json:"notes,omitempty"`
}

// GalaxyUpdate carries a standalone galaxy with its eligible clusters; only
// full-scope sync moves these independently of events.
type GalaxyUpdate struct {
	Galaxy   Galaxy          `json:"galaxy"`
	Clusters []GalaxyCluster `json:"clusters,omitempty"`
}

// Result is the outcome of one push or pull attempt against one link.
type Result struct {
	Success     bool     `json:"success"`
	Transferred int      `json:"transferred"`
	Errors      []string `json:"errors,omitempty"`
}

func (r *Result) AddError(err error) {
	r.Success = false
	r.Errors = append(r.Errors, err.Error())
}

// FeedEvent is emitted on the websocket feed when an event is published
// locally, so interested peers can schedule a pull without polling.
type FeedEvent struct {
	Topic     string    `json:"topic"`
	EventUUID string    `json:"event_uuid"`
	EmittedAt time.Time `json:"emitted_at"`
}

const FeedTopicPublished = "published"
