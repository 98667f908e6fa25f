// Package component maps component identifiers to live instances and routes
// worker-pushed state patches to them.
package component

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State is a partial state update pushed by the worker.
type State map[string]any

// Instance is a live component able to merge a state patch into its local
// state.
type Instance interface {
	ApplyState(patch State)
}

// Retimer is implemented by instances that follow their connection's time
// override.
type Retimer interface {
	Retime(t *time.Time)
}

type entry struct {
	connID int
	inst   Instance
}

// Registry is the live component map.
//
// Dispatch to an id that is no longer registered is expected (the worker may
// push after unmount) and is dropped without error.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]entry

	// OnDrop, when set, observes every dropped dispatch.
	OnDrop func(id int64)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]entry)}
}

// Register binds id to inst on connection connID, replacing any previous
// instance for id.
func (r *Registry) Register(id int64, connID int, inst Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry{connID: connID, inst: inst}
}

// Unregister removes id. Returns false if it was not registered.
func (r *Registry) Unregister(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Lookup returns the instance registered under id.
func (r *Registry) Lookup(id int64) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.inst, ok
}

// Dispatch applies patch to the instance registered under id.
// Returns false and logs when id is unknown.
func (r *Registry) Dispatch(id int64, patch State) bool {
	inst, ok := r.Lookup(id)
	if !ok {
		slog.Warn("component no longer registered", "component", id)
		if r.OnDrop != nil {
			r.OnDrop(id)
		}
		return false
	}

	inst.ApplyState(patch)
	return true
}

// Each calls fn for every instance bound to connID, in id order.
// It iterates a snapshot, so fn may register or unregister components.
func (r *Registry) Each(connID int, fn func(id int64, inst Instance)) {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.entries))
	insts := make(map[int64]Instance)
	for id, e := range r.entries {
		if e.connID == connID {
			ids = append(ids, id)
			insts[id] = e.inst
		}
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, insts[id])
	}
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
