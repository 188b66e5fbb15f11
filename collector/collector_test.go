package collector

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/policy"
	"github.com/SyndicLabs/syndic/store"
)

func testCollector(t *testing.T) (*Collector, store.Store) {
	t.Helper()
	st := store.NewMemory()
	c := New(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  st,
	})
	return c, st
}

func pushReq() policy.Request {
	return policy.Request{Direction: policy.DirectionPush, RequesterOrg: "org-b"}
}

func publishedEvent(uuid string, dist models.Distribution) *models.Event {
	return &models.Event{
		UUID:         uuid,
		Info:         "test",
		OrgID:        "org-a",
		Distribution: dist,
		Published:    true,
		PublishedAt:  time.Now().UTC(),
	}
}

func TestCollectEvent_Gates(t *testing.T) {
	c, st := testCollector(t)

	t.Run("unpublished events never leave", func(t *testing.T) {
		ev := publishedEvent("ev-draft", models.DistributionAll)
		ev.Published = false
		if err := st.CreateEvent(ev); err != nil {
			t.Fatalf("CreateEvent() error = %v", err)
		}

		_, err := c.CollectEvent("ev-draft", pushReq(), false)
		if !errors.As(err, new(*ErrNotPublished)) {
			t.Errorf("CollectEvent() error = %v, want ErrNotPublished", err)
		}
	})

	t.Run("excluded distribution is not eligible", func(t *testing.T) {
		ev := publishedEvent("ev-org-only", models.DistributionOrganisation)
		if err := st.CreateEvent(ev); err != nil {
			t.Fatalf("CreateEvent() error = %v", err)
		}

		_, err := c.CollectEvent("ev-org-only", pushReq(), false)
		if !errors.As(err, new(*ErrNotEligible)) {
			t.Errorf("CollectEvent() error = %v, want ErrNotEligible", err)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := c.CollectEvent("no-such-event", pushReq(), false)
		if !errors.As(err, new(*store.ErrNotFound)) {
			t.Errorf("CollectEvent() error = %v, want store.ErrNotFound", err)
		}
	})
}

func TestCollectEvent_SubArtifactFiltering(t *testing.T) {
	c, st := testCollector(t)

	ev := publishedEvent("ev-graph", models.DistributionAll)
	ev.Attributes = []models.Attribute{
		{UUID: "a-inherit", EventUUID: ev.UUID, Type: "ip-dst", Value: "198.51.100.1",
			Distribution: models.DistributionInherit},
		{UUID: "a-org-only", EventUUID: ev.UUID, Type: "ip-dst", Value: "198.51.100.2",
			Distribution: models.DistributionOrganisation},
		{UUID: "a-connected", EventUUID: ev.UUID, Type: "ip-dst", Value: "198.51.100.3",
			Distribution: models.DistributionConnected},
		{UUID: "a-deleted", EventUUID: ev.UUID, Type: "ip-dst", Value: "198.51.100.4",
			Distribution: models.DistributionAll, Deleted: true},
	}
	ev.Objects = []models.Object{
		{
			UUID: "o-visible", EventUUID: ev.UUID, Name: "file",
			Distribution: models.DistributionInherit,
			Attributes: []models.Attribute{
				{UUID: "oa-inherit", ObjectUUID: "o-visible", Distribution: models.DistributionInherit},
				{UUID: "oa-hidden", ObjectUUID: "o-visible", Distribution: models.DistributionOrganisation},
			},
		},
		{
			UUID: "o-hidden", EventUUID: ev.UUID, Name: "internal-notes",
			Distribution: models.DistributionCommunity,
		},
	}
	ev.Reports = []models.EventReport{
		{UUID: "r-visible", EventUUID: ev.UUID, Name: "summary", Distribution: models.DistributionInherit},
		{UUID: "r-hidden", EventUUID: ev.UUID, Name: "drafting", Distribution: models.DistributionOrganisation},
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	set, err := c.CollectEvent(ev.UUID, pushReq(), false)
	if err != nil {
		t.Fatalf("CollectEvent() error = %v", err)
	}

	gotAttrs := make(map[string]bool)
	for _, a := range set.Event.Attributes {
		gotAttrs[a.UUID] = true
	}
	for _, want := range []string{"a-inherit", "a-connected", "a-deleted"} {
		if !gotAttrs[want] {
			t.Errorf("attribute %s missing from collected set", want)
		}
	}
	if gotAttrs["a-org-only"] {
		t.Errorf("organisation-only attribute leaked into collected set")
	}

	// Soft-deleted attributes travel as tombstones.
	for _, a := range set.Event.Attributes {
		if a.UUID == "a-deleted" && !a.Deleted {
			t.Errorf("tombstone lost its deleted flag")
		}
	}

	if len(set.Event.Objects) != 1 || set.Event.Objects[0].UUID != "o-visible" {
		t.Fatalf("Objects = %+v, want only o-visible", set.Event.Objects)
	}
	obj := set.Event.Objects[0]
	if len(obj.Attributes) != 1 || obj.Attributes[0].UUID != "oa-inherit" {
		t.Errorf("object attributes = %+v, want only oa-inherit", obj.Attributes)
	}

	if len(set.Event.Reports) != 1 || set.Event.Reports[0].UUID != "r-visible" {
		t.Errorf("Reports = %+v, want only r-visible", set.Event.Reports)
	}

	// Collection leaves levels untouched; Inherit stays Inherit.
	for _, a := range set.Event.Attributes {
		if a.UUID == "a-inherit" && a.Distribution != models.DistributionInherit {
			t.Errorf("collection rewrote an inherit level to %v", a.Distribution)
		}
	}
}

func TestCollectEvent_LocalOnlyTagsAndClusters(t *testing.T) {
	c, st := testCollector(t)

	if err := st.PutTagDef(models.TagDefinition{Name: "tlp:amber", Colour: "#ffc000"}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutTagDef(models.TagDefinition{Name: "workflow:todo", LocalOnly: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutGalaxy(models.Galaxy{UUID: "gal-1", Name: "Threat Actor",
		Distribution: models.DistributionAll}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutCluster(models.GalaxyCluster{UUID: "clu-1", GalaxyUUID: "gal-1",
		Value: "APT-X", Distribution: models.DistributionAll, Published: true}); err != nil {
		t.Fatal(err)
	}

	ev := publishedEvent("ev-tags", models.DistributionAll)
	ev.Tags = []models.TagAttachment{{Name: "tlp:amber"}, {Name: "workflow:todo"}}
	ev.Clusters = []models.ClusterAttachment{
		{ClusterUUID: "clu-1"},
		{ClusterUUID: "clu-1", Local: true},
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	t.Run("standard link strips local material", func(t *testing.T) {
		set, err := c.CollectEvent(ev.UUID, pushReq(), false)
		if err != nil {
			t.Fatalf("CollectEvent() error = %v", err)
		}
		if len(set.Event.Tags) != 1 || set.Event.Tags[0].Name != "tlp:amber" {
			t.Errorf("Tags = %+v, want only tlp:amber", set.Event.Tags)
		}
		if len(set.Event.Clusters) != 1 || set.Event.Clusters[0].Local {
			t.Errorf("Clusters = %+v, want only the non-local attachment", set.Event.Clusters)
		}
		if len(set.Galaxies) != 1 || len(set.Clusters) != 1 {
			t.Errorf("definitions = %d galaxies %d clusters, want 1 and 1",
				len(set.Galaxies), len(set.Clusters))
		}
	})

	t.Run("internal link carries local material", func(t *testing.T) {
		req := pushReq()
		req.Internal = true
		set, err := c.CollectEvent(ev.UUID, req, false)
		if err != nil {
			t.Fatalf("CollectEvent() error = %v", err)
		}
		if len(set.Event.Tags) != 2 {
			t.Errorf("Tags = %+v, want both tags over internal link", set.Event.Tags)
		}
		if len(set.Event.Clusters) != 2 {
			t.Errorf("Clusters = %+v, want both attachments over internal link", set.Event.Clusters)
		}
	})
}

func TestCollectEvent_ClusterPairRule(t *testing.T) {
	c, st := testCollector(t)

	// Galaxy too restricted: its clusters cannot cross even at level 3.
	if err := st.PutGalaxy(models.Galaxy{UUID: "gal-tight", Name: "Restricted",
		Distribution: models.DistributionOrganisation}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutCluster(models.GalaxyCluster{UUID: "clu-open", GalaxyUUID: "gal-tight",
		Value: "open cluster", Distribution: models.DistributionAll, Published: true}); err != nil {
		t.Fatal(err)
	}

	ev := publishedEvent("ev-pair", models.DistributionAll)
	ev.Clusters = []models.ClusterAttachment{{ClusterUUID: "clu-open"}}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	set, err := c.CollectEvent(ev.UUID, pushReq(), false)
	if err != nil {
		t.Fatalf("CollectEvent() error = %v", err)
	}
	if len(set.Event.Clusters) != 0 || len(set.Clusters) != 0 {
		t.Errorf("cluster crossed despite restricted galaxy: %+v", set.Clusters)
	}
}

func TestCollectEvent_ProposalsAndScope(t *testing.T) {
	c, st := testCollector(t)

	ev := publishedEvent("ev-props", models.DistributionAll)
	ev.Proposals = []models.Proposal{
		{UUID: "p-pending", EventUUID: ev.UUID, Type: models.ProposalAdd,
			State: models.ProposalPending, ProposerOrg: "org-c"},
		{UUID: "p-discarded", EventUUID: ev.UUID, Type: models.ProposalModify,
			State: models.ProposalDiscarded, ProposerOrg: "org-c"},
		{UUID: "p-accepted", EventUUID: ev.UUID, Type: models.ProposalAdd,
			State: models.ProposalAccepted, ProposerOrg: "org-c"},
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err := st.PutSighting(models.Sighting{UUID: "si-1", EventUUID: ev.UUID,
		OrgID: "org-a", Distribution: models.DistributionAll, SeenAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutSighting(models.Sighting{UUID: "si-inherit", EventUUID: ev.UUID,
		OrgID: "org-a", Distribution: models.DistributionInherit, SeenAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutNote(models.AnalystNote{UUID: "no-1", EventUUID: ev.UUID,
		OrgID: "org-a", Note: "note", Distribution: models.DistributionOrganisation}); err != nil {
		t.Fatal(err)
	}

	t.Run("only pending proposals travel", func(t *testing.T) {
		set, err := c.CollectEvent(ev.UUID, pushReq(), false)
		if err != nil {
			t.Fatalf("CollectEvent() error = %v", err)
		}
		if len(set.Event.Proposals) != 1 || set.Event.Proposals[0].UUID != "p-pending" {
			t.Errorf("Proposals = %+v, want only the pending one", set.Event.Proposals)
		}
	})

	t.Run("event scope omits analyst data", func(t *testing.T) {
		set, err := c.CollectEvent(ev.UUID, pushReq(), false)
		if err != nil {
			t.Fatalf("CollectEvent() error = %v", err)
		}
		if len(set.Sightings) != 0 || len(set.Notes) != 0 {
			t.Errorf("event-scoped set carries analyst data: %d sightings %d notes",
				len(set.Sightings), len(set.Notes))
		}
	})

	t.Run("full scope carries eligible analyst data", func(t *testing.T) {
		set, err := c.CollectEvent(ev.UUID, pushReq(), true)
		if err != nil {
			t.Fatalf("CollectEvent() error = %v", err)
		}
		// The inherit sighting follows its level-3 event and travels too.
		if len(set.Sightings) != 2 {
			t.Errorf("Sightings = %+v, want level-3 and inherit sightings", set.Sightings)
		}
		// The organisation-only note stays home.
		if len(set.Notes) != 0 {
			t.Errorf("Notes = %+v, want none", set.Notes)
		}

		if err := c.Finalize(set, pushReq()); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		for _, sg := range set.Sightings {
			if sg.UUID == "si-inherit" && sg.Distribution != models.DistributionInherit {
				t.Errorf("inherit sighting rewritten to %v", sg.Distribution)
			}
		}
	})
}

func TestCollectEvent_SharingGroup(t *testing.T) {
	c, st := testCollector(t)

	if err := st.PutSharingGroup(models.SharingGroup{
		UUID: "sg-1", Name: "trusted circle", OrgIDs: []string{"org-b"},
	}); err != nil {
		t.Fatal(err)
	}
	ev := publishedEvent("ev-sg", models.DistributionSharingGroup)
	ev.SharingGroupID = "sg-1"
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	if _, err := c.CollectEvent(ev.UUID, pushReq(), false); err != nil {
		t.Errorf("CollectEvent() for member org error = %v", err)
	}

	req := pushReq()
	req.RequesterOrg = "org-z"
	_, err := c.CollectEvent(ev.UUID, req, false)
	if !errors.As(err, new(*ErrNotEligible)) {
		t.Errorf("CollectEvent() for non-member error = %v, want ErrNotEligible", err)
	}
}

func TestFinalize(t *testing.T) {
	c, st := testCollector(t)

	ev := publishedEvent("ev-final", models.DistributionConnected)
	ev.Attributes = []models.Attribute{
		{UUID: "a-1", EventUUID: ev.UUID, Distribution: models.DistributionInherit},
		{UUID: "a-2", EventUUID: ev.UUID, Distribution: models.DistributionConnected},
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	set, err := c.CollectEvent(ev.UUID, pushReq(), false)
	if err != nil {
		t.Fatalf("CollectEvent() error = %v", err)
	}
	if err := c.Finalize(set, pushReq()); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if set.Event.Distribution != models.DistributionCommunity {
		t.Errorf("event level = %v, want community after downgrade", set.Event.Distribution)
	}
	if !set.Event.Locked {
		t.Errorf("finalized copy is not locked")
	}
	for _, a := range set.Event.Attributes {
		switch a.UUID {
		case "a-1":
			if a.Distribution != models.DistributionInherit {
				t.Errorf("inherit attribute rewritten to %v", a.Distribution)
			}
		case "a-2":
			if a.Distribution != models.DistributionCommunity {
				t.Errorf("concrete attribute = %v, want community", a.Distribution)
			}
		}
	}
}

func TestCollectAllAndGalaxies(t *testing.T) {
	c, st := testCollector(t)

	for _, ev := range []*models.Event{
		publishedEvent("ev-all-1", models.DistributionAll),
		publishedEvent("ev-all-2", models.DistributionOrganisation),
		publishedEvent("ev-all-3", models.DistributionConnected),
	} {
		if err := st.CreateEvent(ev); err != nil {
			t.Fatal(err)
		}
	}
	draft := publishedEvent("ev-all-4", models.DistributionAll)
	draft.Published = false
	if err := st.CreateEvent(draft); err != nil {
		t.Fatal(err)
	}

	sets, err := c.CollectAll(pushReq(), false)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if len(sets) != 2 {
		t.Errorf("CollectAll() returned %d sets, want 2 (org-only and draft skipped)", len(sets))
	}

	if err := st.PutGalaxy(models.Galaxy{UUID: "gal-a", Name: "open",
		Distribution: models.DistributionAll}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutCluster(models.GalaxyCluster{UUID: "clu-a", GalaxyUUID: "gal-a",
		Value: "v", Distribution: models.DistributionAll, Published: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutCluster(models.GalaxyCluster{UUID: "clu-b", GalaxyUUID: "gal-a",
		Value: "unpublished", Distribution: models.DistributionAll}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutGalaxy(models.Galaxy{UUID: "gal-b", Name: "restricted",
		Distribution: models.DistributionOrganisation}); err != nil {
		t.Fatal(err)
	}

	updates, err := c.CollectGalaxies(pushReq())
	if err != nil {
		t.Fatalf("CollectGalaxies() error = %v", err)
	}
	if len(updates) != 1 || updates[0].Galaxy.UUID != "gal-a" {
		t.Fatalf("CollectGalaxies() = %+v, want only gal-a", updates)
	}
	if len(updates[0].Clusters) != 1 || updates[0].Clusters[0].UUID != "clu-a" {
		t.Errorf("clusters = %+v, want only the published clu-a", updates[0].Clusters)
	}
}
