package policy

import (
	"log/slog"

	"github.com/SyndicLabs/syndic/models"
)

// Direction is which side initiated the exchange. The decision table is
// asymmetric at level 1: community-only artifacts are never pushed, but a
// direct peer that actively pulls receives them (stored as organisation-only
// so they cannot travel further).
type Direction int

const (
	DirectionPush Direction = iota
	DirectionPull
)

func (d Direction) String() string {
	if d == DirectionPush {
		return "push"
	}
	return "pull"
}

// Relationship distinguishes the directly linked peer from any node further
// down a relay chain. Every concrete exchange is hop-local, so protocols
// evaluate with DirectPeer against the level stored on the offering node;
// BeyondFirstHop exists for callers reasoning about relay eligibility and
// only tightens the level-1 pull allowance.
type Relationship int

const (
	RelDirectPeer Relationship = iota
	RelBeyondFirstHop
)

type Action int

const (
	ActionExclude Action = iota
	ActionIncludeAsIs
	ActionIncludeDowngraded
)

// Decision is the evaluator verdict for one artifact. StoreAs is the level
// the receiving copy must carry; for ActionIncludeAsIs it equals the input
// level.
type Decision struct {
	Action  Action
	StoreAs models.Distribution
}

func (d Decision) Included() bool { return d.Action != ActionExclude }

func exclude() Decision { return Decision{Action: ActionExclude} }

func asIs(level models.Distribution) Decision {
	return Decision{Action: ActionIncludeAsIs, StoreAs: level}
}

func downgraded(to models.Distribution) Decision {
	return Decision{Action: ActionIncludeDowngraded, StoreAs: to}
}

// Request describes the requesting side of an exchange as seen by the node
// running the evaluator: who is asking, in which direction, and over what
// class of link.
type Request struct {
	Direction    Direction
	Relationship Relationship
	Internal     bool
	RequesterOrg string
}

// MembershipFunc answers whether an organisation belongs to a sharing group.
type MembershipFunc func(orgID, groupUUID string) (bool, error)

// Evaluator maps (distribution level, sharing group, request) to a decision.
// It is pure apart from the membership lookup.
type Evaluator struct {
	logger   *slog.Logger
	isMember MembershipFunc
}

func New(logger *slog.Logger, isMember MembershipFunc) *Evaluator {
	return &Evaluator{
		logger:   logger.WithGroup("policy"),
		isMember: isMember,
	}
}

// Evaluate classifies a single artifact. The level must be a concrete event
// level: callers resolve DistributionInherit against the container first
// (see Resolve). An out-of-range level is a programming error and comes back
// as *ErrInvalidDistribution; callers fail the whole exchange on it.
func (e *Evaluator) Evaluate(level models.Distribution, sharingGroupID string, req Request) (Decision, error) {
	if !level.Valid() {
		return exclude(), &ErrInvalidDistribution{Level: int(level)}
	}

	if level == models.DistributionSharingGroup {
		return e.evaluateSharingGroup(level, sharingGroupID, req)
	}

	if req.Internal {
		return evaluateInternal(level, req), nil
	}

	switch level {
	case models.DistributionOrganisation:
		return exclude(), nil

	case models.DistributionCommunity:
		// Never pushed. A direct peer pulling it stores it as
		// organisation-only, which ends the chain: the copy's stored level
		// is the next hop's input and level 0 is excluded everywhere.
		if req.Direction == DirectionPull && req.Relationship == RelDirectPeer {
			return downgraded(models.DistributionOrganisation), nil
		}
		return exclude(), nil

	case models.DistributionConnected:
		return downgraded(models.DistributionCommunity), nil

	case models.DistributionAll:
		return asIs(level), nil
	}

	return exclude(), &ErrInvalidDistribution{Level: int(level)}
}

func (e *Evaluator) evaluateSharingGroup(level models.Distribution, sharingGroupID string, req Request) (Decision, error) {
	if sharingGroupID == "" {
		return exclude(), &ErrMissingSharingGroup{}
	}
	member, err := e.isMember(req.RequesterOrg, sharingGroupID)
	if err != nil {
		return exclude(), err
	}
	if !member {
		e.logger.Debug("sharing group exclusion",
			"group", sharingGroupID, "org", req.RequesterOrg)
		return exclude(), nil
	}
	// Membership grants the level untouched; every further hop re-checks
	// the receiving org against the group.
	return asIs(level), nil
}

// evaluateInternal handles trusted links. Pushes between internal peers
// share everything at full fidelity; pulls keep the standard downgrade but
// additionally expose organisation-only artifacts.
func evaluateInternal(level models.Distribution, req Request) Decision {
	if req.Direction == DirectionPush {
		return asIs(level)
	}
	switch level {
	case models.DistributionOrganisation:
		return asIs(level)
	case models.DistributionCommunity:
		return downgraded(models.DistributionOrganisation)
	case models.DistributionConnected:
		return downgraded(models.DistributionCommunity)
	default:
		return asIs(level)
	}
}

// Resolve maps a sub-artifact level to a concrete one: Inherit takes the
// parent's level, anything else stands on its own.
func Resolve(level, parent models.Distribution) models.Distribution {
	if level == models.DistributionInherit {
		return parent
	}
	return level
}

// PairIncluded gates a galaxy cluster: the cluster crosses the link only
// when both its own decision and its galaxy's decision include it. Each copy
// still stores its own decision's level, so a level-3 cluster keeps level 3
// even while its level-2 galaxy lands downgraded.
func PairIncluded(galaxy, cluster Decision) bool {
	return galaxy.Included() && cluster.Included()
}
