package shard

import (
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/listsync/internal/sentinel"
)

// Descriptor identifies a configured shard. Immutable after startup; the ring
// and router reference descriptors by name, never by copy.
type Descriptor struct {
	Name          string
	ConnectionURL string
}

// Registry is the set of configured shard connection handles, built once at
// startup from configuration. It is read-only afterwards and therefore safe
// for concurrent use without locking.
type Registry struct {
	order  []string
	shards map[string]*registeredShard
}

type registeredShard struct {
	descriptor Descriptor
	store      Store
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{shards: make(map[string]*registeredShard)}
}

// Add registers a shard handle. Intended for startup wiring only.
func (r *Registry) Add(descriptor Descriptor, store Store) error {
	if strings.TrimSpace(descriptor.Name) == "" {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "shard name")
	}

	if store == nil {
		return ewrap.Wrap(sentinel.ErrNilClient, descriptor.Name)
	}

	if _, exists := r.shards[descriptor.Name]; !exists {
		r.order = append(r.order, descriptor.Name)
	}

	r.shards[descriptor.Name] = &registeredShard{descriptor: descriptor, store: store}

	return nil
}

// Descriptor returns the descriptor registered under the name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	s, ok := r.shards[name]
	if !ok {
		return Descriptor{}, false
	}

	return s.descriptor, true
}

// Store returns the store handle registered under the name.
func (r *Registry) Store(name string) (Store, bool) {
	s, ok := r.shards[name]
	if !ok {
		return nil, false
	}

	return s.store, true
}

// Names returns shard names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

// Stores returns every store handle in registration order.
func (r *Registry) Stores() []Store {
	out := make([]Store, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.shards[name].store)
	}

	return out
}

// Len returns the number of registered shards.
func (r *Registry) Len() int { return len(r.order) }
