package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/protocol"
	"github.com/SyndicLabs/syndic/store"
	"github.com/SyndicLabs/syndic/topology"
)

// responderFor builds the serving side for the authenticated peer.
func (s *Service) responderFor(ap authedPeer) *protocol.Responder {
	return protocol.NewResponder(protocol.ResponderConfig{
		Logger:    s.logger,
		Store:     s.store,
		Collector: s.collector,
		PeerOrg:   ap.Org,
		Internal:  ap.Internal,
	})
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.As(err, new(*store.ErrNotFound)):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.As(err, new(*store.ErrValidation)):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, new(*store.ErrEventExists)):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, new(*collector.ErrNotEligible)):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.As(err, new(*collector.ErrNotPublished)):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, new(*topology.ErrLinkNotFound)):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, new(*protocol.ErrLinkDisabled)):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, new(*protocol.ErrRemoteUnavailable)):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("could not encode response", "error", err)
	}
}

// -------------------------- peer routes

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	s.writeJSON(w, map[string]string{"node": s.cfg.NodeName, "status": "ok"})
}

func (s *Service) indexHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	uuids, err := s.responderFor(ap).EventIndex(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if uuids == nil {
		uuids = []string{}
	}
	s.writeJSON(w, uuids)
}

func (s *Service) eventHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	fullScope := r.URL.Query().Get("scope") == "full"
	set, err := s.responderFor(ap).FetchEvent(r.Context(), r.PathValue("uuid"), fullScope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, set)
}

// extrasHandler serves the full-scope extras for one event on their own:
// sightings and notes the peer may see, without the event document.
func (s *Service) extrasHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	set, err := s.responderFor(ap).FetchEvent(r.Context(), r.PathValue("uuid"), true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{
		"sightings": set.Sightings,
		"notes":     set.Notes,
	})
}

func (s *Service) galaxiesHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	updates, err := s.responderFor(ap).FetchGalaxies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if updates == nil {
		updates = []models.GalaxyUpdate{}
	}
	s.writeJSON(w, updates)
}

func (s *Service) storeHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("could not read body for store request", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var set models.PropagationSet
	if err := json.Unmarshal(bodyBytes, &set); err != nil {
		http.Error(w, "invalid JSON payload for store: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.responderFor(ap).StoreSet(r.Context(), &set); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) storeGalaxyHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var gu models.GalaxyUpdate
	if err := json.Unmarshal(bodyBytes, &gu); err != nil {
		http.Error(w, "invalid JSON payload for galaxy: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.responderFor(ap).StoreGalaxy(r.Context(), &gu); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) feedHandler(w http.ResponseWriter, r *http.Request, ap authedPeer) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "peer", ap.Name)
		return
	}
	s.feed.Attach(conn, ap.Name)
}

// -------------------------- admin routes

// createEventHandler stores a new local event. A missing UUID is assigned;
// the copy is unlocked and unpublished, owned by this node.
func (s *Service) createEventHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var ev models.Event
	if err := json.Unmarshal(bodyBytes, &ev); err != nil {
		http.Error(w, "invalid JSON payload for event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.UUID == "" {
		ev.UUID = uuid.NewString()
	}
	ev.Locked = false
	ev.Published = false
	ev.Timestamp = time.Now().UTC()

	if err := s.store.CreateEvent(&ev); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"uuid": ev.UUID})
}

func (s *Service) pushEventHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PushEvent(r.Context(), r.PathValue("link"), r.PathValue("uuid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Service) pushAllHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PushAll(r.Context(), r.PathValue("link"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Service) pullEventHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PullEvent(r.Context(), r.PathValue("link"), r.PathValue("uuid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Service) pullAllHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.PullAll(r.Context(), r.PathValue("link"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, res)
}

// publishHandler marks a local event published and announces it on the
// feed so subscribed peers can schedule a pull.
func (s *Service) publishHandler(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	at := time.Now().UTC()
	if err := s.store.PublishEvent(uuid, at); err != nil {
		s.writeError(w, err)
		return
	}
	s.feed.Announce(models.FeedEvent{
		Topic:     models.FeedTopicPublished,
		EventUUID: uuid,
		EmittedAt: at,
	})
	w.WriteHeader(http.StatusOK)
}
