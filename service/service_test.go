package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/config"
	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/policy"
	"github.com/SyndicLabs/syndic/protocol"
	"github.com/SyndicLabs/syndic/store"
	"github.com/SyndicLabs/syndic/topology"
)

const (
	testPeerKey  = "peer-key-12345"
	testAdminKey = "admin-key-12345"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	return string(h)
}

func testService(t *testing.T) (*Service, store.Store, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	coll := collector.New(collector.Config{Logger: logger, Store: st})
	links := topology.NewRegistry(logger, nil)
	engine := protocol.New(protocol.Config{
		Logger:    logger,
		Store:     st,
		Collector: coll,
		Links:     links,
		NodeOrg:   "org-a",
		Dial: func(link topology.Link) (protocol.Remote, error) {
			return nil, errors.New("no remotes in this test")
		},
	})

	cfg := &config.Node{
		NodeName:     "node-test",
		Org:          "org-a",
		HttpBinding:  "127.0.0.1:0",
		DataDir:      t.TempDir(),
		AdminKeyHash: hashKey(t, testAdminKey),
		Cache:        config.Cache{MembershipTTL: time.Minute},
		RateLimiters: config.RateLimiters{
			Sync:    config.RateLimiterConfig{Limit: 1000, Burst: 1000},
			Feed:    config.RateLimiterConfig{Limit: 1000, Burst: 1000},
			Default: config.RateLimiterConfig{Limit: 1000, Burst: 1000},
		},
		Feed: config.FeedConfig{
			ChannelSize:              16,
			WebSocketReadBufferSize:  1024,
			WebSocketWriteBufferSize: 1024,
			MaxConnections:           4,
		},
		Peers: map[string]config.Peer{
			"partner-b": {Org: "org-b", KeyHash: hashKey(t, testPeerKey)},
		},
	}

	svc := New(Config{
		Logger:    logger,
		NodeCfg:   cfg,
		Store:     st,
		Collector: coll,
		Engine:    engine,
	})
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return svc, st, ts
}

func doRequest(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("Authorization", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestService_Auth(t *testing.T) {
	_, _, ts := testService(t)

	t.Run("missing key rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/ping", "", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/ping", "not-the-key", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid key accepted", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/ping", testPeerKey, nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("peer key cannot reach admin routes", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, ts.URL+"/admin/v1/publish/some-uuid", testPeerKey, nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})
}

func TestService_IndexAndFetchFilteredForPeer(t *testing.T) {
	_, st, ts := testService(t)

	visible := &models.Event{
		UUID: "ev-visible", Info: "shared", OrgID: "org-a",
		Distribution: models.DistributionAll, Published: true,
	}
	hidden := &models.Event{
		UUID: "ev-hidden", Info: "private", OrgID: "org-a",
		Distribution: models.DistributionOrganisation, Published: true,
	}
	if err := st.CreateEvent(visible); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateEvent(hidden); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/index", testPeerKey, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d, want 200", resp.StatusCode)
	}
	var uuids []string
	if err := json.NewDecoder(resp.Body).Decode(&uuids); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(uuids) != 1 || uuids[0] != "ev-visible" {
		t.Errorf("index = %v, want only ev-visible", uuids)
	}

	fetch := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/event/ev-hidden", testPeerKey, nil)
	defer fetch.Body.Close()
	if fetch.StatusCode != http.StatusForbidden {
		t.Errorf("fetch hidden status = %d, want 403", fetch.StatusCode)
	}

	fetch2 := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/event/ev-visible", testPeerKey, nil)
	defer fetch2.Body.Close()
	var set models.PropagationSet
	if err := json.NewDecoder(fetch2.Body).Decode(&set); err != nil {
		t.Fatalf("decode set: %v", err)
	}
	if set.Event == nil || set.Event.UUID != "ev-visible" {
		t.Errorf("fetched set = %+v", set)
	}
}

func TestService_StoreRoundtrip(t *testing.T) {
	_, st, ts := testService(t)

	pushed := &models.Event{
		UUID: "ev-inbound", Info: "from peer", OrgID: "org-b",
		Distribution: models.DistributionCommunity, Published: true, Locked: true,
	}
	resp := doRequest(t, http.MethodPost, ts.URL+"/sync/v1/store", testPeerKey,
		models.PropagationSet{Event: pushed})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store status = %d, want 200", resp.StatusCode)
	}

	got, err := st.GetEvent("ev-inbound")
	if err != nil {
		t.Fatalf("event not stored: %v", err)
	}
	if !got.Locked {
		t.Errorf("stored copy is not locked")
	}

	t.Run("unlocked push rejected", func(t *testing.T) {
		bad := &models.Event{
			UUID: "ev-unlocked", Distribution: models.DistributionAll, Published: true,
		}
		resp := doRequest(t, http.MethodPost, ts.URL+"/sync/v1/store", testPeerKey,
			models.PropagationSet{Event: bad})
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("store status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("garbage payload rejected", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sync/v1/store",
			bytes.NewReader([]byte("{not json")))
		req.Header.Set("Authorization", testPeerKey)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("store status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestService_AdminPublish(t *testing.T) {
	_, st, ts := testService(t)

	ev := &models.Event{
		UUID: "ev-draft", Info: "draft", OrgID: "org-a",
		Distribution: models.DistributionAll,
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodPost, ts.URL+"/admin/v1/publish/ev-draft", testAdminKey, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d, want 200", resp.StatusCode)
	}

	got, err := st.GetEvent("ev-draft")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Published {
		t.Errorf("event not published")
	}

	t.Run("unknown event 404", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, ts.URL+"/admin/v1/publish/nope", testAdminKey, nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("publish status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestService_ExtrasFilteredPerRecord(t *testing.T) {
	_, st, ts := testService(t)

	ev := &models.Event{
		UUID: "ev-extras", Info: "with extras", OrgID: "org-a",
		Distribution: models.DistributionAll, Published: true,
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err := st.PutSighting(models.Sighting{
		UUID: "sight-1", EventUUID: "ev-extras", OrgID: "org-a",
		Distribution: models.DistributionAll, SeenAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutNote(models.AnalystNote{
		UUID: "note-1", EventUUID: "ev-extras", OrgID: "org-a",
		Note: "internal only", Distribution: models.DistributionOrganisation,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/extras/ev-extras", testPeerKey, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extras status = %d, want 200", resp.StatusCode)
	}
	var extras struct {
		Sightings []models.Sighting    `json:"sightings"`
		Notes     []models.AnalystNote `json:"notes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&extras); err != nil {
		t.Fatal(err)
	}
	if len(extras.Sightings) != 1 || extras.Sightings[0].UUID != "sight-1" {
		t.Errorf("sightings = %+v, want sight-1 only", extras.Sightings)
	}
	if len(extras.Notes) != 0 {
		t.Errorf("notes = %+v, want org-only note withheld", extras.Notes)
	}
}

func TestService_PullServedMaterialKeepsStoredLevels(t *testing.T) {
	// The server filters but does not downgrade on pull; the receiving node
	// applies its own downgrade. A community event is served at level 1.
	_, st, ts := testService(t)

	ev := &models.Event{
		UUID: "ev-comm", Info: "community", OrgID: "org-a",
		Distribution: models.DistributionCommunity, Published: true,
	}
	if err := st.CreateEvent(ev); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/sync/v1/event/ev-comm", testPeerKey, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch status = %d, want 200", resp.StatusCode)
	}
	var set models.PropagationSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatal(err)
	}
	if set.Event.Distribution != models.DistributionCommunity {
		t.Errorf("served level = %v, want community (downgrade is the receiver's job)",
			set.Event.Distribution)
	}

	// Sanity: the receiving side's finalize turns this into level 0.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recvStore := store.NewMemory()
	recvColl := collector.New(collector.Config{Logger: logger, Store: recvStore})
	req := policy.Request{
		Direction:    policy.DirectionPull,
		Relationship: policy.RelDirectPeer,
		RequesterOrg: "org-b",
	}
	if err := recvColl.Finalize(&set, req); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if set.Event.Distribution != models.DistributionOrganisation {
		t.Errorf("finalized level = %v, want organisation-only", set.Event.Distribution)
	}
}
