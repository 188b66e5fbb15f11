// Package collector walks an event's artifact graph and assembles the
// propagation set one exchange will carry: the event with the sub-artifacts
// the requesting side may see, plus the tag, galaxy, and cluster definitions
// the receiver needs to resolve attachments.
//
// Collection filters; it does not rewrite. Levels in a collected set are the
// stored levels. Finalize is the separate step that applies the policy's
// stored-as levels and locks the copy, run by whichever side owns the
// downgrade for the exchange (the sender on push, the receiver on pull).
package collector

import (
	"errors"
	"log/slog"

	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/policy"
	"github.com/SyndicLabs/syndic/store"
)

type Config struct {
	Logger *slog.Logger
	Store  store.Store
}

type Collector struct {
	logger *slog.Logger
	store  store.Store
	eval   *policy.Evaluator
}

func New(config Config) *Collector {
	logger := config.Logger.WithGroup("collector")
	return &Collector{
		logger: logger,
		store:  config.Store,
		eval:   policy.New(logger, config.Store.IsMember),
	}
}

// CollectEvent builds the propagation set for one event. fullScope adds
// sightings and analyst notes; an event-scoped exchange never carries them.
func (c *Collector) CollectEvent(uuid string, req policy.Request, fullScope bool) (*models.PropagationSet, error) {
	ev, err := c.store.GetEvent(uuid)
	if err != nil {
		return nil, err
	}
	if !ev.Published {
		return nil, &ErrNotPublished{UUID: uuid}
	}

	dec, err := c.eval.Evaluate(ev.Distribution, ev.SharingGroupID, req)
	if err != nil {
		return nil, err
	}
	if !dec.Included() {
		return nil, &ErrNotEligible{UUID: uuid, Reason: "distribution policy excludes the event"}
	}

	out := ev.Clone()
	set := &models.PropagationSet{Event: out}

	// The group definition travels with the event so the receiver can run
	// its own membership checks at write time and on every later hop.
	if ev.SharingGroupID != "" {
		group, err := c.store.GetSharingGroup(ev.SharingGroupID)
		if err != nil {
			return nil, err
		}
		set.Groups = append(set.Groups, *group)
	}

	if err := c.filterArtifacts(out, req); err != nil {
		return nil, err
	}
	if err := c.collectTags(out, set, req); err != nil {
		return nil, err
	}
	if err := c.collectClusters(out, set, req); err != nil {
		return nil, err
	}

	// Only pending proposals cross the wire; accepted ones became real
	// attributes and discarded ones must vanish from receivers.
	pending := out.Proposals[:0]
	for _, p := range out.Proposals {
		if p.State == models.ProposalPending {
			pending = append(pending, p)
		}
	}
	out.Proposals = pending

	if fullScope {
		if err := c.collectAnalystData(ev, set, req); err != nil {
			return nil, err
		}
	}

	return set, nil
}

// CollectAll builds sets for every published, eligible event. Ineligible and
// unpublished events are skipped, not errors: a full-scope pass serves
// whatever the requesting side may see.
func (c *Collector) CollectAll(req policy.Request, fullScope bool) ([]*models.PropagationSet, error) {
	uuids, err := c.store.EventUUIDs()
	if err != nil {
		return nil, err
	}

	var sets []*models.PropagationSet
	for _, uuid := range uuids {
		set, err := c.CollectEvent(uuid, req, fullScope)
		if err != nil {
			if errors.As(err, new(*ErrNotEligible)) || errors.As(err, new(*ErrNotPublished)) {
				continue
			}
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// CollectGalaxies builds the standalone galaxy updates a full-scope exchange
// carries: every eligible galaxy with the clusters the pair rule admits.
func (c *Collector) CollectGalaxies(req policy.Request) ([]models.GalaxyUpdate, error) {
	uuids, err := c.store.GalaxyUUIDs()
	if err != nil {
		return nil, err
	}

	var updates []models.GalaxyUpdate
	for _, uuid := range uuids {
		g, err := c.store.GetGalaxy(uuid)
		if err != nil {
			return nil, err
		}
		gDec, err := c.eval.Evaluate(g.Distribution, "", req)
		if err != nil {
			return nil, err
		}
		if !gDec.Included() {
			continue
		}

		clusters, err := c.store.Clusters(uuid)
		if err != nil {
			return nil, err
		}
		gu := models.GalaxyUpdate{Galaxy: *g}
		for _, cl := range clusters {
			if !cl.Published {
				continue
			}
			cDec, err := c.eval.Evaluate(cl.Distribution, "", req)
			if err != nil {
				return nil, err
			}
			if policy.PairIncluded(gDec, cDec) {
				gu.Clusters = append(gu.Clusters, cl)
			}
		}
		updates = append(updates, gu)
	}
	return updates, nil
}

// Finalize applies the policy verdicts to a collected set in place: the
// event and every concrete-level sub-artifact take their stored-as level,
// and the copy is locked. It re-filters, so a receiver finalizing a pulled
// set also drops anything its own policy would not have served.
func (c *Collector) Finalize(set *models.PropagationSet, req policy.Request) error {
	ev := set.Event
	dec, err := c.eval.Evaluate(ev.Distribution, ev.SharingGroupID, req)
	if err != nil {
		return err
	}
	if !dec.Included() {
		return &ErrNotEligible{UUID: ev.UUID, Reason: "distribution policy excludes the event"}
	}

	if err := c.filterArtifacts(ev, req); err != nil {
		return err
	}
	c.applyLevels(ev, req)
	eventLevel := ev.Distribution
	ev.Distribution = dec.StoreAs
	ev.Locked = true

	kept := set.Clusters[:0]
	for _, cl := range set.Clusters {
		cDec, err := c.eval.Evaluate(cl.Distribution, "", req)
		if err != nil {
			return err
		}
		if !cDec.Included() {
			continue
		}
		cl.Distribution = cDec.StoreAs
		cl.Locked = true
		kept = append(kept, cl)
	}
	set.Clusters = kept

	galaxies := set.Galaxies[:0]
	for _, g := range set.Galaxies {
		gDec, err := c.eval.Evaluate(g.Distribution, "", req)
		if err != nil {
			return err
		}
		if !gDec.Included() {
			continue
		}
		g.Distribution = gDec.StoreAs
		galaxies = append(galaxies, g)
	}
	set.Galaxies = galaxies

	// Inherit resolves against the event's pre-downgrade level and, like an
	// inherit attribute, stays Inherit on the wire so the record keeps
	// following its event.
	sightings := set.Sightings[:0]
	for _, sg := range set.Sightings {
		eff := policy.Resolve(sg.Distribution, eventLevel)
		sDec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if !sDec.Included() {
			continue
		}
		if sg.Distribution != models.DistributionInherit {
			sg.Distribution = sDec.StoreAs
		}
		sightings = append(sightings, sg)
	}
	set.Sightings = sightings

	notes := set.Notes[:0]
	for _, n := range set.Notes {
		eff := policy.Resolve(n.Distribution, eventLevel)
		nDec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if !nDec.Included() {
			continue
		}
		if n.Distribution != models.DistributionInherit {
			n.Distribution = nDec.StoreAs
		}
		notes = append(notes, n)
	}
	set.Notes = notes

	return nil
}

// FinalizeGalaxy applies verdicts to a standalone galaxy update.
func (c *Collector) FinalizeGalaxy(gu *models.GalaxyUpdate, req policy.Request) error {
	gDec, err := c.eval.Evaluate(gu.Galaxy.Distribution, "", req)
	if err != nil {
		return err
	}
	if !gDec.Included() {
		return &ErrNotEligible{UUID: gu.Galaxy.UUID, Reason: "distribution policy excludes the galaxy"}
	}
	gu.Galaxy.Distribution = gDec.StoreAs

	kept := gu.Clusters[:0]
	for _, cl := range gu.Clusters {
		cDec, err := c.eval.Evaluate(cl.Distribution, "", req)
		if err != nil {
			return err
		}
		if !policy.PairIncluded(gDec, cDec) {
			continue
		}
		cl.Distribution = cDec.StoreAs
		cl.Locked = true
		kept = append(kept, cl)
	}
	gu.Clusters = kept
	return nil
}

// -------------------------- graph filtering

// filterArtifacts drops the sub-artifacts the requesting side may not see.
// Inherit levels resolve through the container chain (attribute, object,
// event) for evaluation but stay Inherit on the wire, so the copy keeps
// following its container after the container is downgraded.
func (c *Collector) filterArtifacts(ev *models.Event, req policy.Request) error {
	keepAttr := func(a models.Attribute, parent models.Distribution) (bool, error) {
		eff := policy.Resolve(a.Distribution, parent)
		dec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return false, err
		}
		return dec.Included(), nil
	}

	attrs := ev.Attributes[:0]
	for _, a := range ev.Attributes {
		ok, err := keepAttr(a, ev.Distribution)
		if err != nil {
			return err
		}
		if ok {
			attrs = append(attrs, a)
		}
	}
	ev.Attributes = attrs

	objects := ev.Objects[:0]
	for _, o := range ev.Objects {
		objEff := policy.Resolve(o.Distribution, ev.Distribution)
		dec, err := c.eval.Evaluate(objEff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if !dec.Included() {
			continue
		}
		inner := o.Attributes[:0]
		for _, a := range o.Attributes {
			ok, err := keepAttr(a, objEff)
			if err != nil {
				return err
			}
			if ok {
				inner = append(inner, a)
			}
		}
		o.Attributes = inner
		objects = append(objects, o)
	}
	ev.Objects = objects

	reports := ev.Reports[:0]
	for _, r := range ev.Reports {
		eff := policy.Resolve(r.Distribution, ev.Distribution)
		dec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if dec.Included() {
			reports = append(reports, r)
		}
	}
	ev.Reports = reports

	return nil
}

// collectTags prunes local-only attachments on standard links and gathers
// the definitions the receiver needs. A name with no stored definition still
// travels; the receiver gets a bare definition to hang it on.
func (c *Collector) collectTags(ev *models.Event, set *models.PropagationSet, req policy.Request) error {
	tags := ev.Tags[:0]
	for _, att := range ev.Tags {
		def, err := c.store.GetTagDef(att.Name)
		if err != nil {
			if errors.As(err, new(*store.ErrNotFound)) {
				tags = append(tags, att)
				set.TagDefs = append(set.TagDefs, models.TagDefinition{Name: att.Name})
				continue
			}
			return err
		}
		if def.LocalOnly && !req.Internal {
			c.logger.Debug("local-only tag withheld", "tag", att.Name, "event", ev.UUID)
			continue
		}
		tags = append(tags, att)
		set.TagDefs = append(set.TagDefs, *def)
	}
	ev.Tags = tags
	return nil
}

// collectClusters applies the pair rule: an attached cluster crosses the
// link only when both the cluster and its galaxy are individually included.
// Local attachments follow the same internal-only rule as local-only tags.
func (c *Collector) collectClusters(ev *models.Event, set *models.PropagationSet, req policy.Request) error {
	seenGalaxy := make(map[string]bool)
	seenCluster := make(map[string]bool)

	attachments := ev.Clusters[:0]
	for _, att := range ev.Clusters {
		if att.Local && !req.Internal {
			c.logger.Debug("local cluster attachment withheld",
				"cluster", att.ClusterUUID, "event", ev.UUID)
			continue
		}

		cl, err := c.store.GetCluster(att.ClusterUUID)
		if err != nil {
			if errors.As(err, new(*store.ErrNotFound)) {
				c.logger.Warn("cluster attachment references unknown cluster",
					"cluster", att.ClusterUUID, "event", ev.UUID)
				continue
			}
			return err
		}
		g, err := c.store.GetGalaxy(cl.GalaxyUUID)
		if err != nil {
			if errors.As(err, new(*store.ErrNotFound)) {
				c.logger.Warn("cluster references unknown galaxy",
					"cluster", cl.UUID, "galaxy", cl.GalaxyUUID)
				continue
			}
			return err
		}

		gDec, err := c.eval.Evaluate(g.Distribution, "", req)
		if err != nil {
			return err
		}
		cDec, err := c.eval.Evaluate(cl.Distribution, "", req)
		if err != nil {
			return err
		}
		if !policy.PairIncluded(gDec, cDec) {
			continue
		}

		attachments = append(attachments, att)
		if !seenCluster[cl.UUID] {
			seenCluster[cl.UUID] = true
			set.Clusters = append(set.Clusters, *cl)
		}
		if !seenGalaxy[g.UUID] {
			seenGalaxy[g.UUID] = true
			set.Galaxies = append(set.Galaxies, *g)
		}
	}
	ev.Clusters = attachments
	return nil
}

// collectAnalystData adds the sightings and notes a full-scope exchange
// carries. Each record is gated on its own distribution level.
func (c *Collector) collectAnalystData(ev *models.Event, set *models.PropagationSet, req policy.Request) error {
	sightings, err := c.store.Sightings(ev.UUID)
	if err != nil {
		return err
	}
	for _, sg := range sightings {
		// A sighting follows its event unless it carries its own level.
		eff := policy.Resolve(sg.Distribution, ev.Distribution)
		dec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if dec.Included() {
			set.Sightings = append(set.Sightings, sg)
		}
	}

	notes, err := c.store.Notes(ev.UUID)
	if err != nil {
		return err
	}
	for _, n := range notes {
		eff := policy.Resolve(n.Distribution, ev.Distribution)
		dec, err := c.eval.Evaluate(eff, ev.SharingGroupID, req)
		if err != nil {
			return err
		}
		if dec.Included() {
			set.Notes = append(set.Notes, n)
		}
	}
	return nil
}

// applyLevels rewrites concrete sub-artifact levels to their stored-as
// values. Inherit stays Inherit.
func (c *Collector) applyLevels(ev *models.Event, req policy.Request) {
	apply := func(level models.Distribution) models.Distribution {
		if level == models.DistributionInherit {
			return level
		}
		dec, err := c.eval.Evaluate(level, ev.SharingGroupID, req)
		if err != nil || !dec.Included() {
			return level
		}
		return dec.StoreAs
	}

	for i := range ev.Attributes {
		ev.Attributes[i].Distribution = apply(ev.Attributes[i].Distribution)
	}
	for i := range ev.Objects {
		ev.Objects[i].Distribution = apply(ev.Objects[i].Distribution)
		for j := range ev.Objects[i].Attributes {
			ev.Objects[i].Attributes[j].Distribution = apply(ev.Objects[i].Attributes[j].Distribution)
		}
	}
	for i := range ev.Reports {
		ev.Reports[i].Distribution = apply(ev.Reports[i].Distribution)
	}
}
