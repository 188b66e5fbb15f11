// Package protocol runs the push and pull exchanges between linked nodes.
//
// The downgrade is applied by whichever side owns it for the exchange: a
// pushing node finalizes (downgrades and locks) the set before transmitting
// it, while a pulling node receives server-filtered sets at their stored
// levels and finalizes them itself at write time.
package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SyndicLabs/syndic/collector"
	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/policy"
	"github.com/SyndicLabs/syndic/store"
	"github.com/SyndicLabs/syndic/topology"
)

// Remote is one reachable peer. The HTTP client implements it over the
// wire; Responder implements it in-process for the serving side.
type Remote interface {
	Ping(ctx context.Context) error

	// EventIndex lists the published events the calling peer may see.
	EventIndex(ctx context.Context) ([]string, error)

	// FetchEvent returns the propagation set for one event, filtered for
	// the calling peer but still at stored levels.
	FetchEvent(ctx context.Context, uuid string, fullScope bool) (*models.PropagationSet, error)

	// FetchGalaxies returns the standalone galaxy updates a full-scope
	// pull carries.
	FetchGalaxies(ctx context.Context) ([]models.GalaxyUpdate, error)

	// StoreSet lands a pushed set on the remote, atomically.
	StoreSet(ctx context.Context, set *models.PropagationSet) error

	// StoreGalaxy lands a pushed galaxy update on the remote.
	StoreGalaxy(ctx context.Context, gu *models.GalaxyUpdate) error
}

// Dialer resolves a configured link to a conversable remote.
type Dialer func(link topology.Link) (Remote, error)

type Config struct {
	Logger    *slog.Logger
	Store     store.Store
	Collector *collector.Collector
	Links     *topology.Registry
	NodeOrg   string
	Dial      Dialer
}

// Engine drives exchanges over this node's links.
type Engine struct {
	logger    *slog.Logger
	store     store.Store
	collector *collector.Collector
	links     *topology.Registry
	nodeOrg   string
	dial      Dialer
}

func New(config Config) *Engine {
	return &Engine{
		logger:    config.Logger.WithGroup("protocol"),
		store:     config.Store,
		collector: config.Collector,
		links:     config.Links,
		nodeOrg:   config.NodeOrg,
		dial:      config.Dial,
	}
}

// landGroups stores incoming sharing group definitions ahead of finalize,
// so membership checks on the pulled material see them.
func (e *Engine) landGroups(set *models.PropagationSet) error {
	for _, g := range set.Groups {
		if err := e.store.PutSharingGroup(g); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pushRequest(link topology.Link) policy.Request {
	return policy.Request{
		Direction:    policy.DirectionPush,
		Relationship: policy.RelDirectPeer,
		Internal:     link.Internal,
		RequesterOrg: link.RemoteOrg,
	}
}

func (e *Engine) pullRequest(link topology.Link) policy.Request {
	return policy.Request{
		Direction:    policy.DirectionPull,
		Relationship: policy.RelDirectPeer,
		Internal:     link.Internal,
		RequesterOrg: e.nodeOrg,
	}
}

// PushEvent pushes a single published event over one link. The event must
// be eligible; an excluded event is an error, not a silent no-op, because
// the caller asked for this specific transfer.
func (e *Engine) PushEvent(ctx context.Context, linkName, uuid string) (*models.Result, error) {
	link, err := e.links.Get(linkName)
	if err != nil {
		return nil, err
	}
	if !link.Push {
		return nil, &ErrLinkDisabled{Name: linkName, Direction: "push"}
	}
	remote, err := e.dial(link)
	if err != nil {
		return nil, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}

	req := e.pushRequest(link)
	set, err := e.collector.CollectEvent(uuid, req, false)
	if err != nil {
		return nil, err
	}
	if err := e.collector.Finalize(set, req); err != nil {
		return nil, err
	}

	if err := remote.StoreSet(ctx, set); err != nil {
		return nil, &ErrStoreRejected{UUID: uuid, Err: err}
	}

	e.logger.Info("event pushed",
		"event", uuid, "link", linkName, "level", set.Event.Distribution)
	return &models.Result{Success: true, Transferred: 1}, nil
}

// PushAll pushes every eligible published event over one link, full scope:
// analyst data travels with the events and standalone galaxies follow.
// Per-event failures are recorded, not fatal.
func (e *Engine) PushAll(ctx context.Context, linkName string) (*models.Result, error) {
	link, err := e.links.Get(linkName)
	if err != nil {
		return nil, err
	}
	if !link.Push {
		return nil, &ErrLinkDisabled{Name: linkName, Direction: "push"}
	}
	remote, err := e.dial(link)
	if err != nil {
		return nil, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}

	req := e.pushRequest(link)
	result := &models.Result{Success: true}

	sets, err := e.collector.CollectAll(req, true)
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := e.collector.Finalize(set, req); err != nil {
			result.AddError(err)
			continue
		}
		if err := remote.StoreSet(ctx, set); err != nil {
			result.AddError(&ErrStoreRejected{UUID: set.Event.UUID, Err: err})
			continue
		}
		result.Transferred++
	}

	updates, err := e.collector.CollectGalaxies(req)
	if err != nil {
		return result, err
	}
	for i := range updates {
		if err := e.collector.FinalizeGalaxy(&updates[i], req); err != nil {
			result.AddError(err)
			continue
		}
		if err := remote.StoreGalaxy(ctx, &updates[i]); err != nil {
			result.AddError(err)
			continue
		}
		result.Transferred++
	}

	e.logger.Info("full push finished",
		"link", linkName, "transferred", result.Transferred, "errors", len(result.Errors))
	return result, nil
}

// PullEvent pulls a single event from one link. The remote filters for this
// node; this node applies its own downgrade and lock before storing.
func (e *Engine) PullEvent(ctx context.Context, linkName, uuid string) (*models.Result, error) {
	link, err := e.links.Get(linkName)
	if err != nil {
		return nil, err
	}
	if !link.Pull {
		return nil, &ErrLinkDisabled{Name: linkName, Direction: "pull"}
	}
	remote, err := e.dial(link)
	if err != nil {
		return nil, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}

	set, err := remote.FetchEvent(ctx, uuid, false)
	if err != nil {
		return nil, err
	}

	req := e.pullRequest(link)
	if err := e.landGroups(set); err != nil {
		return nil, err
	}
	if err := e.collector.Finalize(set, req); err != nil {
		return nil, err
	}
	status, err := e.store.ApplyPropagationSet(set)
	if err != nil {
		return nil, err
	}
	if status != store.ApplyApplied {
		e.logger.Debug("pulled copy ignored",
			"event", uuid, "link", linkName, "status", status)
		return &models.Result{Success: true}, nil
	}

	e.logger.Info("event pulled",
		"event", uuid, "link", linkName, "level", set.Event.Distribution)
	return &models.Result{Success: true, Transferred: 1}, nil
}

// PullAll pulls everything the remote will serve, full scope. Events the
// local policy rejects on finalize are skipped; other failures are recorded.
func (e *Engine) PullAll(ctx context.Context, linkName string) (*models.Result, error) {
	link, err := e.links.Get(linkName)
	if err != nil {
		return nil, err
	}
	if !link.Pull {
		return nil, &ErrLinkDisabled{Name: linkName, Direction: "pull"}
	}
	remote, err := e.dial(link)
	if err != nil {
		return nil, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}

	uuids, err := remote.EventIndex(ctx)
	if err != nil {
		return nil, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}

	req := e.pullRequest(link)
	result := &models.Result{Success: true}

	for _, uuid := range uuids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		set, err := remote.FetchEvent(ctx, uuid, true)
		if err != nil {
			result.AddError(err)
			continue
		}
		if err := e.landGroups(set); err != nil {
			result.AddError(err)
			continue
		}
		if err := e.collector.Finalize(set, req); err != nil {
			if errors.As(err, new(*collector.ErrNotEligible)) {
				continue
			}
			result.AddError(err)
			continue
		}
		status, err := e.store.ApplyPropagationSet(set)
		if err != nil {
			result.AddError(err)
			continue
		}
		if status != store.ApplyApplied {
			continue
		}
		result.Transferred++
	}

	updates, err := remote.FetchGalaxies(ctx)
	if err != nil {
		return result, &ErrRemoteUnavailable{Name: linkName, Err: err}
	}
	for i := range updates {
		if err := e.collector.FinalizeGalaxy(&updates[i], req); err != nil {
			if errors.As(err, new(*collector.ErrNotEligible)) {
				continue
			}
			result.AddError(err)
			continue
		}
		if err := e.store.ApplyGalaxyUpdate(&updates[i]); err != nil {
			result.AddError(err)
			continue
		}
		result.Transferred++
	}

	e.logger.Info("full pull finished",
		"link", linkName, "transferred", result.Transferred, "errors", len(result.Errors))
	return result, nil
}
