package handlers

import "sync"

type slot struct {
	handler any
	state   any
}

// Registry holds, per Kind, the registered handler value and its
// current opaque state. It is logically part of the owning Connection
// Actor's state (§5): only the actor's task mutates it.
type Registry struct {
	mu    sync.Mutex
	slots map[Kind]*slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[Kind]*slot)}
}

// Register installs handler under kind with its initial state. Handlers
// may be registered once per kind; a second Register for the same kind
// replaces the prior handler and resets its state.
func (r *Registry) Register(kind Kind, handler any, initialState any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[kind] = &slot{handler: handler, state: initialState}
}

// Unregister removes any handler installed for kind.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, kind)
}

// get returns the handler and its current state for kind.
func (r *Registry) get(kind Kind) (any, any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[kind]
	if !ok {
		return nil, nil, false
	}
	return s.handler, s.state, true
}

// setState replaces the state held for kind, if still registered. A
// concurrent Unregister/Register between get and setState simply drops
// the stale write, matching the single-actor-owner assumption.
func (r *Registry) setState(kind Kind, state any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[kind]; ok {
		s.state = state
	}
}

// State returns the current state stored for kind, for callers that
// need to read it without invoking an operation.
func (r *Registry) State(kind Kind) (any, bool) {
	_, state, ok := r.get(kind)
	return state, ok
}
