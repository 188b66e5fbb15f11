package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"

	"github.com/SyndicLabs/syndic/models"
)

var DefaultMembershipTTL = 1 * time.Minute

const (
	prefixEvent    = "event:"
	prefixSighting = "sighting:"
	prefixNote     = "note:"
	prefixTagDef   = "tagdef:"
	prefixGalaxy   = "galaxy:"
	prefixCluster  = "cluster:"
	prefixGroup    = "sg:"
)

type badgerStore struct {
	logger     *slog.Logger
	appCtx     context.Context
	db         *badger.DB
	membership *ttlcache.Cache[string, bool]
	locks      *keyedLocks
}

var _ Store = &badgerStore{}

// New opens the persistent store under config.Directory.
func New(config Config) (Store, error) {
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	dbOpts := badger.DefaultOptions(config.Directory).
		WithLogger(newBadgerLogger(config.Logger.WithGroup("backend"))).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	if config.MembershipTTL == 0 {
		config.MembershipTTL = DefaultMembershipTTL
	}

	// Membership answers must expire uniformly across a federation, not be
	// kept alive by repeated hits, or group changes take unbounded time to
	// be observed.
	membership := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](config.MembershipTTL),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go membership.Start()

	return &badgerStore{
		logger:     config.Logger.WithGroup("store"),
		appCtx:     config.AppCtx,
		db:         db,
		membership: membership,
		locks:      newKeyedLocks(),
	}, nil
}

func (s *badgerStore) Close() error {
	if s.membership != nil {
		s.membership.Stop()
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing store db", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

// -------------------------- low level

func (s *badgerStore) getJSON(key string, kind string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrNotFound{Kind: kind, Key: strings.TrimPrefix(key, kind+":")}
			}
			return &ErrInternal{Err: err}
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, out); err != nil {
				return &ErrInternal{Err: err}
			}
			return nil
		})
	})
}

func (s *badgerStore) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *badgerStore) iterate(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// -------------------------- events

func (s *badgerStore) CreateEvent(ev *models.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	unlock := s.locks.acquire(ev.UUID)
	defer unlock()

	var existing models.Event
	err := s.getJSON(prefixEvent+ev.UUID, "event", &existing)
	if err == nil {
		return &ErrEventExists{UUID: ev.UUID}
	}
	if !errors.As(err, new(*ErrNotFound)) {
		return err
	}
	return s.setJSON(prefixEvent+ev.UUID, ev)
}

func (s *badgerStore) GetEvent(uuid string) (*models.Event, error) {
	var ev models.Event
	if err := s.getJSON(prefixEvent+uuid, "event", &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *badgerStore) UpdateEvent(ev *models.Event) (UpdateStatus, error) {
	if err := validateEvent(ev); err != nil {
		return UpdateApplied, err
	}
	unlock := s.locks.acquire(ev.UUID)
	defer unlock()

	existing, err := s.GetEvent(ev.UUID)
	if err != nil {
		return UpdateApplied, err
	}
	if existing.Locked {
		s.logger.Debug("update ignored on locked event", "uuid", ev.UUID)
		return UpdateLockedIgnored, nil
	}
	return UpdateApplied, s.setJSON(prefixEvent+ev.UUID, ev)
}

func (s *badgerStore) DeleteEvent(uuid string) error {
	unlock := s.locks.acquire(uuid)
	defer unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixEvent + uuid)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *badgerStore) EventUUIDs() ([]string, error) {
	var uuids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefixEvent)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			uuids = append(uuids, strings.TrimPrefix(string(it.Item().Key()), prefixEvent))
		}
		return nil
	})
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}
	return uuids, nil
}

func (s *badgerStore) PublishEvent(uuid string, at time.Time) error {
	unlock := s.locks.acquire(uuid)
	defer unlock()

	ev, err := s.GetEvent(uuid)
	if err != nil {
		return err
	}
	ev.Published = true
	ev.PublishedAt = at
	ev.Timestamp = at
	return s.setJSON(prefixEvent+uuid, ev)
}

func (s *badgerStore) UnpublishEvent(uuid string) error {
	unlock := s.locks.acquire(uuid)
	defer unlock()

	ev, err := s.GetEvent(uuid)
	if err != nil {
		return err
	}
	ev.Published = false
	return s.setJSON(prefixEvent+uuid, ev)
}

// -------------------------- analyst data

func (s *badgerStore) PutSighting(sg models.Sighting) error {
	if sg.UUID == "" || sg.EventUUID == "" {
		return &ErrValidation{Reason: "sighting requires uuid and event uuid"}
	}
	if !sg.Distribution.ValidForSubArtifact() {
		return &ErrValidation{Reason: "sighting distribution out of range"}
	}
	return s.setJSON(fmt.Sprintf("%s%s:%s", prefixSighting, sg.EventUUID, sg.UUID), sg)
}

func (s *badgerStore) Sightings(eventUUID string) ([]models.Sighting, error) {
	var out []models.Sighting
	err := s.iterate(prefixSighting+eventUUID+":", func(val []byte) error {
		var sg models.Sighting
		if err := json.Unmarshal(val, &sg); err != nil {
			return &ErrInternal{Err: err}
		}
		out = append(out, sg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) PutNote(n models.AnalystNote) error {
	if n.UUID == "" || n.EventUUID == "" {
		return &ErrValidation{Reason: "note requires uuid and event uuid"}
	}
	if !n.Distribution.Valid() {
		return &ErrValidation{Reason: "note distribution out of range"}
	}
	return s.setJSON(fmt.Sprintf("%s%s:%s", prefixNote, n.EventUUID, n.UUID), n)
}

func (s *badgerStore) Notes(eventUUID string) ([]models.AnalystNote, error) {
	var out []models.AnalystNote
	err := s.iterate(prefixNote+eventUUID+":", func(val []byte) error {
		var n models.AnalystNote
		if err := json.Unmarshal(val, &n); err != nil {
			return &ErrInternal{Err: err}
		}
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -------------------------- reference data

func (s *badgerStore) PutTagDef(def models.TagDefinition) error {
	if def.Name == "" {
		return &ErrValidation{Reason: "tag definition requires a name"}
	}
	return s.setJSON(prefixTagDef+def.Name, def)
}

func (s *badgerStore) GetTagDef(name string) (*models.TagDefinition, error) {
	var def models.TagDefinition
	if err := s.getJSON(prefixTagDef+name, "tagdef", &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *badgerStore) PutGalaxy(g models.Galaxy) error {
	if g.UUID == "" {
		return &ErrValidation{Reason: "galaxy requires a uuid"}
	}
	if !g.Distribution.Valid() {
		return &ErrValidation{Reason: "galaxy distribution out of range"}
	}
	return s.setJSON(prefixGalaxy+g.UUID, g)
}

func (s *badgerStore) GetGalaxy(uuid string) (*models.Galaxy, error) {
	var g models.Galaxy
	if err := s.getJSON(prefixGalaxy+uuid, "galaxy", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *badgerStore) GalaxyUUIDs() ([]string, error) {
	var uuids []string
	err := s.iterate(prefixGalaxy, func(val []byte) error {
		var g models.Galaxy
		if err := json.Unmarshal(val, &g); err != nil {
			return &ErrInternal{Err: err}
		}
		uuids = append(uuids, g.UUID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uuids, nil
}

func (s *badgerStore) PutCluster(c models.GalaxyCluster) error {
	if c.UUID == "" || c.GalaxyUUID == "" {
		return &ErrValidation{Reason: "cluster requires uuid and galaxy uuid"}
	}
	if !c.Distribution.Valid() {
		return &ErrValidation{Reason: "cluster distribution out of range"}
	}
	return s.setJSON(prefixCluster+c.UUID, c)
}

func (s *badgerStore) GetCluster(uuid string) (*models.GalaxyCluster, error) {
	var c models.GalaxyCluster
	if err := s.getJSON(prefixCluster+uuid, "cluster", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *badgerStore) Clusters(galaxyUUID string) ([]models.GalaxyCluster, error) {
	var out []models.GalaxyCluster
	err := s.iterate(prefixCluster, func(val []byte) error {
		var c models.GalaxyCluster
		if err := json.Unmarshal(val, &c); err != nil {
			return &ErrInternal{Err: err}
		}
		if c.GalaxyUUID == galaxyUUID {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) PutSharingGroup(g models.SharingGroup) error {
	if g.UUID == "" {
		return &ErrValidation{Reason: "sharing group requires a uuid"}
	}
	if err := s.setJSON(prefixGroup+g.UUID, g); err != nil {
		return err
	}
	// Drop stale cached answers for this group.
	s.membership.DeleteAll()
	return nil
}

func (s *badgerStore) GetSharingGroup(uuid string) (*models.SharingGroup, error) {
	var g models.SharingGroup
	if err := s.getJSON(prefixGroup+uuid, "sharing group", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *badgerStore) IsMember(orgID, groupUUID string) (bool, error) {
	cacheKey := orgID + "|" + groupUUID
	if item := s.membership.Get(cacheKey); item != nil && !item.IsExpired() {
		return item.Value(), nil
	}

	var g models.SharingGroup
	if err := s.getJSON(prefixGroup+groupUUID, "sharing group", &g); err != nil {
		if errors.As(err, new(*ErrNotFound)) {
			// An unknown group grants nothing.
			return false, nil
		}
		return false, err
	}
	member := g.HasOrg(orgID)
	s.membership.Set(cacheKey, member, ttlcache.DefaultTTL)
	return member, nil
}

// -------------------------- sync

func (s *badgerStore) ApplyPropagationSet(set *models.PropagationSet) (ApplyStatus, error) {
	if set == nil || set.Event == nil {
		return ApplyApplied, &ErrValidation{Reason: "propagation set requires an event"}
	}
	if err := validateEvent(set.Event); err != nil {
		return ApplyApplied, err
	}

	unlock := s.locks.acquire(set.Event.UUID)
	defer unlock()

	// A bidirectional pair will eventually offer a node its own events back.
	// The unlocked copy is the original; it never yields to sync, and a
	// locked copy only yields to material at least as new.
	existing, err := s.GetEvent(set.Event.UUID)
	if err == nil {
		if !existing.Locked {
			s.logger.Debug("sync ignored for locally owned event", "uuid", set.Event.UUID)
			return ApplyOwnershipIgnored, nil
		}
		if set.Event.Timestamp.Before(existing.Timestamp) {
			s.logger.Debug("stale sync copy ignored", "uuid", set.Event.UUID)
			return ApplyStaleIgnored, nil
		}
	} else if !errors.As(err, new(*ErrNotFound)) {
		return ApplyApplied, err
	}

	entries := make(map[string]any)
	entries[prefixEvent+set.Event.UUID] = set.Event
	for _, def := range set.TagDefs {
		entries[prefixTagDef+def.Name] = def
	}
	for _, g := range set.Galaxies {
		entries[prefixGalaxy+g.UUID] = g
	}
	for _, c := range set.Clusters {
		entries[prefixCluster+c.UUID] = c
	}
	for _, sg := range set.Sightings {
		entries[fmt.Sprintf("%s%s:%s", prefixSighting, sg.EventUUID, sg.UUID)] = sg
	}
	for _, n := range set.Notes {
		entries[fmt.Sprintf("%s%s:%s", prefixNote, n.EventUUID, n.UUID)] = n
	}
	for _, g := range set.Groups {
		entries[prefixGroup+g.UUID] = g
	}

	if err := s.writeBatch(entries); err != nil {
		return ApplyApplied, err
	}
	if len(set.Groups) > 0 {
		s.membership.DeleteAll()
	}
	return ApplyApplied, nil
}

func (s *badgerStore) ApplyGalaxyUpdate(gu *models.GalaxyUpdate) error {
	if gu == nil || gu.Galaxy.UUID == "" {
		return &ErrValidation{Reason: "galaxy update requires a galaxy"}
	}
	entries := make(map[string]any)
	entries[prefixGalaxy+gu.Galaxy.UUID] = gu.Galaxy
	for _, c := range gu.Clusters {
		entries[prefixCluster+c.UUID] = c
	}
	return s.writeBatch(entries)
}

// writeBatch commits all entries or none of them.
func (s *badgerStore) writeBatch(entries map[string]any) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for key, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		if err := wb.Set([]byte(key), data); err != nil {
			return &ErrInternal{Err: fmt.Errorf("failed to add '%s' to batch: %w", key, err)}
		}
	}
	if err := wb.Flush(); err != nil {
		return &ErrInternal{Err: fmt.Errorf("failed to flush batch: %w", err)}
	}
	return nil
}
