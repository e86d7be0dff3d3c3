package connection

import (
	"sync"

	"wsresilient/pkg/transport"
)

// ActorID identifies one Connection Actor for its lifetime.
type ActorID string

// Handle is the lightweight, externally-safe reference to a running
// Actor (§3), identifying it by ActorID so ownership transfer
// (transfer_ownership/receive_ownership) is just a registry update
// rather than a pointer handoff. Registry.Lookup and client.Client still
// work with the *Actor directly.
type Handle struct {
	ActorID       ActorID
	StreamRef     transport.StreamRef
	TransportKind string
}

// Registry maps ActorID to its live Actor, standing in for the spec's
// actor_id-keyed process registry.
//
// Grounded on the teacher's internal/supervisor.Supervisor (a
// mutex-guarded map of named running actors with Register/Lookup/
// Unregister) generalized from supervised agent processes to
// Connection Actors.
type Registry struct {
	mu     sync.RWMutex
	actors map[ActorID]*Actor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actors: make(map[ActorID]*Actor)}
}

// Register records actor under id, replacing any previous entry.
func (r *Registry) Register(id ActorID, actor *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[id] = actor
}

// Unregister removes id from the registry.
func (r *Registry) Unregister(id ActorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, id)
}

// Lookup returns the Actor registered under id.
func (r *Registry) Lookup(id ActorID) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

// TransferOwnership moves the registration for id from this registry to
// dst, so a new owner can look the actor up under the same id. The
// Actor itself is untouched: transfer is purely a registry-bookkeeping
// operation, matching the spec's transfer_ownership/receive_ownership
// pair (§4.7).
func (r *Registry) TransferOwnership(dst *Registry, id ActorID) bool {
	r.mu.Lock()
	actor, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	dst.Register(id, actor)
	return true
}
