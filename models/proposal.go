package models

type ProposalType string

const (
	ProposalAdd    ProposalType = "add"
	ProposalModify ProposalType = "modify"
	ProposalDelete ProposalType = "delete"
)

type ProposalState string

const (
	ProposalPending   ProposalState = "pending"
	ProposalAccepted  ProposalState = "accepted"
	ProposalDiscarded ProposalState = "discarded"
)

// Proposal is a shadow attribute: a suggested add/modify/delete that has not
// been committed by the event owner. Proposals carry no distribution of
// their own; while pending they travel with their event unconditionally.
// Acceptance materialises a real attribute and a discarded proposal must
// disappear from every receiver on the next sync pass, so only pending
// proposals ever cross the wire.
type Proposal struct {
	UUID          string        `json:"uuid"`
	EventUUID     string        `json:"event_uuid"`
	AttributeUUID string        `json:"attribute_uuid,omitempty"`
	Type          ProposalType  `json:"type"`
	State         ProposalState `json:"state"`
	Category      string        `json:"category,omitempty"`
	AttrType      string        `json:"attr_type,omitempty"`
	Value         string        `json:"value,omitempty"`
	ProposerOrg   string        `json:"proposer_org"`
}
