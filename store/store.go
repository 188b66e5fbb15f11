package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/SyndicLabs/syndic/models"
)

// Config for the badger-backed store.
type Config struct {
	Logger        *slog.Logger
	Directory     string
	AppCtx        context.Context
	MembershipTTL time.Duration
}

// UpdateStatus is the outcome of a local event mutation. Locked copies
// swallow the write instead of erroring: callers detect it from the status
// (or by re-reading), which keeps field-level callers oblivious while still
// making the no-op observable.
type UpdateStatus int

const (
	UpdateApplied UpdateStatus = iota
	UpdateLockedIgnored
)

type EventHandler interface {
	CreateEvent(ev *models.Event) error
	GetEvent(uuid string) (*models.Event, error)
	// UpdateEvent applies a local edit. It is a no-op returning
	// UpdateLockedIgnored when the stored copy is locked.
	UpdateEvent(ev *models.Event) (UpdateStatus, error)
	DeleteEvent(uuid string) error
	EventUUIDs() ([]string, error)
	PublishEvent(uuid string, at time.Time) error
	UnpublishEvent(uuid string) error
}

type AnalystHandler interface {
	PutSighting(s models.Sighting) error
	Sightings(eventUUID string) ([]models.Sighting, error)
	PutNote(n models.AnalystNote) error
	Notes(eventUUID string) ([]models.AnalystNote, error)
}

type ReferenceHandler interface {
	PutTagDef(def models.TagDefinition) error
	GetTagDef(name string) (*models.TagDefinition, error)
	PutGalaxy(g models.Galaxy) error
	GetGalaxy(uuid string) (*models.Galaxy, error)
	GalaxyUUIDs() ([]string, error)
	PutCluster(c models.GalaxyCluster) error
	GetCluster(uuid string) (*models.GalaxyCluster, error)
	Clusters(galaxyUUID string) ([]models.GalaxyCluster, error)
	PutSharingGroup(g models.SharingGroup) error
	GetSharingGroup(uuid string) (*models.SharingGroup, error)
	IsMember(orgID, groupUUID string) (bool, error)
}

// ApplyStatus is the outcome of landing one inbound propagation set.
type ApplyStatus int

const (
	ApplyApplied ApplyStatus = iota
	// ApplyOwnershipIgnored: the node already holds an unlocked copy, so it
	// is the event's origin. Sync never overwrites an original.
	ApplyOwnershipIgnored
	// ApplyStaleIgnored: the inbound copy is older than the one held.
	ApplyStaleIgnored
)

func (a ApplyStatus) String() string {
	switch a {
	case ApplyApplied:
		return "applied"
	case ApplyOwnershipIgnored:
		return "ownership-ignored"
	case ApplyStaleIgnored:
		return "stale-ignored"
	}
	return "unknown"
}

type SyncHandler interface {
	// ApplyPropagationSet lands one inbound event transfer atomically:
	// either the full set (event document, definitions, extras) is stored
	// or nothing is. A locked existing copy is replaced (locking protects
	// against local edits, not against sync), but an unlocked existing
	// copy marks this node as the origin and the set is ignored, as is a
	// set older than the copy already held.
	ApplyPropagationSet(set *models.PropagationSet) (ApplyStatus, error)
	ApplyGalaxyUpdate(gu *models.GalaxyUpdate) error
}

type Store interface {
	EventHandler
	AnalystHandler
	ReferenceHandler
	SyncHandler

	Close() error
}

func validateEvent(ev *models.Event) error {
	if ev == nil || ev.UUID == "" {
		return &ErrValidation{Reason: "event uuid is required"}
	}
	if !ev.Distribution.Valid() {
		return &ErrValidation{Reason: "event distribution out of range"}
	}
	if ev.Distribution.RequiresSharingGroup() && ev.SharingGroupID == "" {
		return &ErrValidation{Reason: "sharing group distribution without group reference"}
	}
	for _, a := range ev.Attributes {
		if !a.Distribution.ValidForSubArtifact() {
			return &ErrValidation{Reason: "attribute distribution out of range"}
		}
	}
	for _, o := range ev.Objects {
		if !o.Distribution.ValidForSubArtifact() {
			return &ErrValidation{Reason: "object distribution out of range"}
		}
	}
	for _, r := range ev.Reports {
		if !r.Distribution.ValidForSubArtifact() {
			return &ErrValidation{Reason: "report distribution out of range"}
		}
	}
	return nil
}
