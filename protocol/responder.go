package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/policy"
	"github.com/SyndicLabs/syndic/store"
)

// Responder is the serving side of the protocol for one authenticated peer:
// it answers index and fetch requests filtered for that peer, and lands
// pushed sets. The HTTP service wraps one per request; tests wire it
// directly as an in-process Remote.
type Responder struct {
	logger    *slog.Logger
	store     store.Store
	collector *collector.Collector

	peerOrg  string
	internal bool
}

var _ Remote = &Responder{}

type ResponderConfig struct {
	Logger    *slog.Logger
	Store     store.Store
	Collector *collector.Collector
	PeerOrg   string
	Internal  bool
}

func NewResponder(config ResponderConfig) *Responder {
	return &Responder{
		logger:    config.Logger.WithGroup("responder"),
		store:     config.Store,
		collector: config.Collector,
		peerOrg:   config.PeerOrg,
		internal:  config.Internal,
	}
}

// serveRequest is the policy view of the peer currently asking: it pulls
// from us, over a link whose trust class we know from our own config.
func (r *Responder) serveRequest() policy.Request {
	return policy.Request{
		Direction:    policy.DirectionPull,
		Relationship: policy.RelDirectPeer,
		Internal:     r.internal,
		RequesterOrg: r.peerOrg,
	}
}

func (r *Responder) Ping(ctx context.Context) error { return nil }

func (r *Responder) EventIndex(ctx context.Context) ([]string, error) {
	uuids, err := r.store.EventUUIDs()
	if err != nil {
		return nil, err
	}

	// Only advertise what the peer may actually fetch; an index entry for
	// an excluded event leaks its existence.
	req := r.serveRequest()
	var visible []string
	for _, uuid := range uuids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := r.collector.CollectEvent(uuid, req, false); err != nil {
			if errors.As(err, new(*collector.ErrNotEligible)) ||
				errors.As(err, new(*collector.ErrNotPublished)) {
				continue
			}
			return nil, err
		}
		visible = append(visible, uuid)
	}
	return visible, nil
}

func (r *Responder) FetchEvent(ctx context.Context, uuid string, fullScope bool) (*models.PropagationSet, error) {
	return r.collector.CollectEvent(uuid, r.serveRequest(), fullScope)
}

func (r *Responder) FetchGalaxies(ctx context.Context) ([]models.GalaxyUpdate, error) {
	return r.collector.CollectGalaxies(r.serveRequest())
}

// StoreSet lands a pushed set. The sender already finalized it (downgraded
// levels, locked flag); we validate and write atomically.
func (r *Responder) StoreSet(ctx context.Context, set *models.PropagationSet) error {
	if set == nil || set.Event == nil {
		return &store.ErrValidation{Reason: "push carried no event"}
	}
	if !set.Event.Locked {
		return &store.ErrValidation{Reason: "pushed copy must be locked"}
	}
	status, err := r.store.ApplyPropagationSet(set)
	if err != nil {
		return err
	}
	if status != store.ApplyApplied {
		// Our own original or a stale copy: accept the push, change nothing.
		r.logger.Debug("pushed copy ignored",
			"event", set.Event.UUID, "from", r.peerOrg, "status", status)
		return nil
	}
	r.logger.Info("pushed event stored",
		"event", set.Event.UUID, "from", r.peerOrg, "level", set.Event.Distribution)
	return nil
}

func (r *Responder) StoreGalaxy(ctx context.Context, gu *models.GalaxyUpdate) error {
	if gu == nil || gu.Galaxy.UUID == "" {
		return &store.ErrValidation{Reason: "push carried no galaxy"}
	}
	return r.store.ApplyGalaxyUpdate(gu)
}
