package models

import "time"

/*
	The event is the root container of the sharing model. Its UUID is stable
	across every node that holds a copy; numeric row ids never cross the wire.

	Locked is set on any copy that arrived via sync. A locked copy rejects
	local mutation (the write is a no-op, surfaced as a status, not an error)
	so that the origin node stays the single writer for the event.
*/

type Event struct {
	UUID           string       `json:"uuid"`
	Info           string       `json:"info"`
	OrgID          string       `json:"org_id"`
	Distribution   Distribution `json:"distribution"`
	SharingGroupID string       `json:"sharing_group_id,omitempty"`
	Published      bool         `json:"published"`
	PublishedAt    time.Time    `json:"published_at,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Locked         bool         `json:"locked"`

	Attributes []Attribute         `json:"attributes,omitempty"`
	Objects    []Object            `json:"objects,omitempty"`
	Tags       []TagAttachment     `json:"tags,omitempty"`
	Clusters   []ClusterAttachment `json:"clusters,omitempty"`
	Reports    []EventReport       `json:"reports,omitempty"`
	Proposals  []Proposal          `json:"proposals,omitempty"`
}

// Clone returns a deep copy. Sync paths mutate copies (downgrade, locking,
// sub-artifact filtering) and must never touch the stored original.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Attributes = append([]Attribute(nil), e.Attributes...)
	cp.Objects = make([]Object, len(e.Objects))
	for i, o := range e.Objects {
		cp.Objects[i] = o
		cp.Objects[i].Attributes = append([]Attribute(nil), o.Attributes...)
	}
	cp.Tags = append([]TagAttachment(nil), e.Tags...)
	cp.Clusters = append([]ClusterAttachment(nil), e.Clusters...)
	cp.Reports = append([]EventReport(nil), e.Reports...)
	cp.Proposals = append([]Proposal(nil), e.Proposals...)
	return &cp
}
