// Package topology models the explicit links between federation nodes.
// A link is directional configuration held by one node about one remote:
// whether this node pushes to it, pulls from it, and whether the two
// deployments trust each other enough to exchange restricted material.
package topology

import (
	"log/slog"
	"sync"
)

// Link is one configured connection to a remote node.
type Link struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`

	// RemoteOrg is the organisation the remote node belongs to. Sharing
	// group membership on push is checked against it.
	RemoteOrg string `yaml:"remoteOrg"`

	Push bool `yaml:"push"`
	Pull bool `yaml:"pull"`

	// Internal marks the remote as part of the same trust domain. Material
	// crosses internal links without the usual visibility downgrade.
	Internal bool `yaml:"internal"`
}

// Flow is the net direction material can move between two nodes once both
// sides' link configuration is taken into account.
type Flow int

const (
	FlowNone Flow = iota
	FlowAToB
	FlowBToA
	FlowBidirectional
)

func (f Flow) String() string {
	switch f {
	case FlowNone:
		return "none"
	case FlowAToB:
		return "a-to-b"
	case FlowBToA:
		return "b-to-a"
	case FlowBidirectional:
		return "bidirectional"
	}
	return "unknown"
}

// ResolveFlow classifies the exchange between two nodes from each side's
// link to the other; nil means that side has no link configured. Material
// moves A to B when A pushes or B pulls, and the reverse symmetrically.
func ResolveFlow(aToB, bToA *Link) Flow {
	aSends := (aToB != nil && aToB.Push) || (bToA != nil && bToA.Pull)
	bSends := (bToA != nil && bToA.Push) || (aToB != nil && aToB.Pull)
	switch {
	case aSends && bSends:
		return FlowBidirectional
	case aSends:
		return FlowAToB
	case bSends:
		return FlowBToA
	}
	return FlowNone
}

// Registry holds this node's view of its links, keyed by name.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	links map[string]Link
}

func NewRegistry(logger *slog.Logger, links []Link) *Registry {
	r := &Registry{
		logger: logger.WithGroup("topology"),
		links:  make(map[string]Link, len(links)),
	}
	for _, l := range links {
		r.links[l.Name] = l
	}
	return r
}

// Get returns the link with the given name.
func (r *Registry) Get(name string) (Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[name]
	if !ok {
		return Link{}, &ErrLinkNotFound{Name: name}
	}
	return l, nil
}

// List returns all configured links.
func (r *Registry) List() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

// PushTargets returns every link this node pushes to.
func (r *Registry) PushTargets() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Link
	for _, l := range r.links {
		if l.Push {
			out = append(out, l)
		}
	}
	return out
}

// PullSources returns every link this node pulls from.
func (r *Registry) PullSources() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Link
	for _, l := range r.links {
		if l.Pull {
			out = append(out, l)
		}
	}
	return out
}

// Set adds or replaces a link at runtime.
func (r *Registry) Set(l Link) error {
	if l.Name == "" || l.Endpoint == "" {
		return &ErrInvalidLink{Reason: "link requires a name and an endpoint"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[l.Name] = l
	r.logger.Debug("link configured",
		"name", l.Name, "push", l.Push, "pull", l.Pull, "internal", l.Internal)
	return nil
}

// Remove deletes a link. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, name)
}
