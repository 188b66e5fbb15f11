package models

// Distribution controls how far an artifact may travel across the federation.
// Levels 0 through 4 are the wire values; Inherit is only meaningful on
// sub-artifacts and resolves to the containing event's effective level.
type Distribution int

const (
	DistributionOrganisation Distribution = iota // own organisation, never leaves the node
	DistributionCommunity                        // this community only
	DistributionConnected                        // connected communities
	DistributionAll                              // all communities, unlimited hops
	DistributionSharingGroup                     // explicit sharing group membership
	DistributionInherit                          // sub-artifacts: follow the event
)

func (d Distribution) String() string {
	switch d {
	case DistributionOrganisation:
		return "organisation"
	case DistributionCommunity:
		return "community"
	case DistributionConnected:
		return "connected"
	case DistributionAll:
		return "all"
	case DistributionSharingGroup:
		return "sharing-group"
	case DistributionInherit:
		return "inherit"
	}
	return "invalid"
}

// Valid reports whether d is a level an event may carry. Inherit is not a
// storable event level; use ValidForSubArtifact for sub-artifacts.
func (d Distribution) Valid() bool {
	return d >= DistributionOrganisation && d <= DistributionSharingGroup
}

func (d Distribution) ValidForSubArtifact() bool {
	return d >= DistributionOrganisation && d <= DistributionInherit
}

// RequiresSharingGroup reports whether a sharing group reference must
// accompany this level.
func (d Distribution) RequiresSharingGroup() bool {
	return d == DistributionSharingGroup
}
