package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/SyndicLabs/syndic/models"
)

// memoryStore keeps everything in maps. It backs tests and multi-node
// harnesses where spinning up a disk-backed store per simulated node is
// pure overhead. It honours the same validation and locked-copy rules as
// the persistent store.
type memoryStore struct {
	mu        sync.RWMutex
	events    map[string]*models.Event
	sightings map[string]map[string]models.Sighting
	notes     map[string]map[string]models.AnalystNote
	tagDefs   map[string]models.TagDefinition
	galaxies  map[string]models.Galaxy
	clusters  map[string]models.GalaxyCluster
	groups    map[string]models.SharingGroup
}

var _ Store = &memoryStore{}

// NewMemory returns a Store held entirely in memory.
func NewMemory() Store {
	return &memoryStore{
		events:    make(map[string]*models.Event),
		sightings: make(map[string]map[string]models.Sighting),
		notes:     make(map[string]map[string]models.AnalystNote),
		tagDefs:   make(map[string]models.TagDefinition),
		galaxies:  make(map[string]models.Galaxy),
		clusters:  make(map[string]models.GalaxyCluster),
		groups:    make(map[string]models.SharingGroup),
	}
}

func (s *memoryStore) Close() error { return nil }

// -------------------------- events

func (s *memoryStore) CreateEvent(ev *models.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.UUID]; ok {
		return &ErrEventExists{UUID: ev.UUID}
	}
	s.events[ev.UUID] = ev.Clone()
	return nil
}

func (s *memoryStore) GetEvent(uuid string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[uuid]
	if !ok {
		return nil, &ErrNotFound{Kind: "event", Key: uuid}
	}
	return ev.Clone(), nil
}

func (s *memoryStore) UpdateEvent(ev *models.Event) (UpdateStatus, error) {
	if err := validateEvent(ev); err != nil {
		return UpdateApplied, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[ev.UUID]
	if !ok {
		return UpdateApplied, &ErrNotFound{Kind: "event", Key: ev.UUID}
	}
	if existing.Locked {
		return UpdateLockedIgnored, nil
	}
	s.events[ev.UUID] = ev.Clone()
	return UpdateApplied, nil
}

func (s *memoryStore) DeleteEvent(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, uuid)
	return nil
}

func (s *memoryStore) EventUUIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uuids := make([]string, 0, len(s.events))
	for uuid := range s.events {
		uuids = append(uuids, uuid)
	}
	return uuids, nil
}

func (s *memoryStore) PublishEvent(uuid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[uuid]
	if !ok {
		return &ErrNotFound{Kind: "event", Key: uuid}
	}
	ev.Published = true
	ev.PublishedAt = at
	ev.Timestamp = at
	return nil
}

func (s *memoryStore) UnpublishEvent(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[uuid]
	if !ok {
		return &ErrNotFound{Kind: "event", Key: uuid}
	}
	ev.Published = false
	return nil
}

// -------------------------- analyst data

func (s *memoryStore) PutSighting(sg models.Sighting) error {
	if sg.UUID == "" || sg.EventUUID == "" {
		return &ErrValidation{Reason: "sighting requires uuid and event uuid"}
	}
	if !sg.Distribution.ValidForSubArtifact() {
		return &ErrValidation{Reason: "sighting distribution out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sightings[sg.EventUUID] == nil {
		s.sightings[sg.EventUUID] = make(map[string]models.Sighting)
	}
	s.sightings[sg.EventUUID][sg.UUID] = sg
	return nil
}

func (s *memoryStore) Sightings(eventUUID string) ([]models.Sighting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Sighting
	for _, sg := range s.sightings[eventUUID] {
		out = append(out, sg)
	}
	return out, nil
}

func (s *memoryStore) PutNote(n models.AnalystNote) error {
	if n.UUID == "" || n.EventUUID == "" {
		return &ErrValidation{Reason: "note requires uuid and event uuid"}
	}
	if !n.Distribution.Valid() {
		return &ErrValidation{Reason: "note distribution out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notes[n.EventUUID] == nil {
		s.notes[n.EventUUID] = make(map[string]models.AnalystNote)
	}
	s.notes[n.EventUUID][n.UUID] = n
	return nil
}

func (s *memoryStore) Notes(eventUUID string) ([]models.AnalystNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AnalystNote
	for _, n := range s.notes[eventUUID] {
		out = append(out, n)
	}
	return out, nil
}

// -------------------------- reference data

func (s *memoryStore) PutTagDef(def models.TagDefinition) error {
	if def.Name == "" {
		return &ErrValidation{Reason: "tag definition requires a name"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagDefs[def.Name] = def
	return nil
}

func (s *memoryStore) GetTagDef(name string) (*models.TagDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.tagDefs[name]
	if !ok {
		return nil, &ErrNotFound{Kind: "tagdef", Key: name}
	}
	return &def, nil
}

func (s *memoryStore) PutGalaxy(g models.Galaxy) error {
	if g.UUID == "" {
		return &ErrValidation{Reason: "galaxy requires a uuid"}
	}
	if !g.Distribution.Valid() {
		return &ErrValidation{Reason: "galaxy distribution out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.galaxies[g.UUID] = g
	return nil
}

func (s *memoryStore) GetGalaxy(uuid string) (*models.Galaxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.galaxies[uuid]
	if !ok {
		return nil, &ErrNotFound{Kind: "galaxy", Key: uuid}
	}
	return &g, nil
}

func (s *memoryStore) GalaxyUUIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uuids := make([]string, 0, len(s.galaxies))
	for uuid := range s.galaxies {
		uuids = append(uuids, uuid)
	}
	return uuids, nil
}

func (s *memoryStore) PutCluster(c models.GalaxyCluster) error {
	if c.UUID == "" || c.GalaxyUUID == "" {
		return &ErrValidation{Reason: "cluster requires uuid and galaxy uuid"}
	}
	if !c.Distribution.Valid() {
		return &ErrValidation{Reason: "cluster distribution out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[c.UUID] = c
	return nil
}

func (s *memoryStore) GetCluster(uuid string) (*models.GalaxyCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[uuid]
	if !ok {
		return nil, &ErrNotFound{Kind: "cluster", Key: uuid}
	}
	return &c, nil
}

func (s *memoryStore) Clusters(galaxyUUID string) ([]models.GalaxyCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GalaxyCluster
	for _, c := range s.clusters {
		if c.GalaxyUUID == galaxyUUID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memoryStore) PutSharingGroup(g models.SharingGroup) error {
	if g.UUID == "" {
		return &ErrValidation{Reason: "sharing group requires a uuid"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.UUID] = g
	return nil
}

func (s *memoryStore) GetSharingGroup(uuid string) (*models.SharingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[uuid]
	if !ok {
		return nil, &ErrNotFound{Kind: "sharing group", Key: uuid}
	}
	return &g, nil
}

func (s *memoryStore) IsMember(orgID, groupUUID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupUUID]
	if !ok {
		return false, nil
	}
	return g.HasOrg(orgID), nil
}

// -------------------------- sync

func (s *memoryStore) ApplyPropagationSet(set *models.PropagationSet) (ApplyStatus, error) {
	if set == nil || set.Event == nil {
		return ApplyApplied, &ErrValidation{Reason: "propagation set requires an event"}
	}
	if err := validateEvent(set.Event); err != nil {
		return ApplyApplied, err
	}
	for _, n := range set.Notes {
		if n.UUID == "" || n.EventUUID == "" {
			return ApplyApplied, &ErrValidation{Reason: "note requires uuid and event uuid"}
		}
	}
	for _, sg := range set.Sightings {
		if sg.UUID == "" || sg.EventUUID == "" {
			return ApplyApplied, &ErrValidation{Reason: "sighting requires uuid and event uuid"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[set.Event.UUID]; ok {
		if !existing.Locked {
			return ApplyOwnershipIgnored, nil
		}
		if set.Event.Timestamp.Before(existing.Timestamp) {
			return ApplyStaleIgnored, nil
		}
	}
	s.events[set.Event.UUID] = set.Event.Clone()
	for _, def := range set.TagDefs {
		s.tagDefs[def.Name] = def
	}
	for _, g := range set.Galaxies {
		s.galaxies[g.UUID] = g
	}
	for _, c := range set.Clusters {
		s.clusters[c.UUID] = c
	}
	for _, sg := range set.Sightings {
		if s.sightings[sg.EventUUID] == nil {
			s.sightings[sg.EventUUID] = make(map[string]models.Sighting)
		}
		s.sightings[sg.EventUUID][sg.UUID] = sg
	}
	for _, n := range set.Notes {
		if s.notes[n.EventUUID] == nil {
			s.notes[n.EventUUID] = make(map[string]models.AnalystNote)
		}
		s.notes[n.EventUUID][n.UUID] = n
	}
	for _, g := range set.Groups {
		s.groups[g.UUID] = g
	}
	return ApplyApplied, nil
}

func (s *memoryStore) ApplyGalaxyUpdate(gu *models.GalaxyUpdate) error {
	if gu == nil || gu.Galaxy.UUID == "" {
		return &ErrValidation{Reason: "galaxy update requires a galaxy"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.galaxies[gu.Galaxy.UUID] = gu.Galaxy
	for _, c := range gu.Clusters {
		s.clusters[c.UUID] = c
	}
	return nil
}

func (s *memoryStore) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory store: %d events, %d galaxies", len(s.events), len(s.galaxies))
}
