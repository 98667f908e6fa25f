// Package callback correlates asynchronous worker replies with the call
// site that issued the request.
//
// The channel to the worker is FIFO per direction, but replies to logically
// distinct operations arrive in no particular order, so the reference is the
// only thing that ties a reply to its caller.
package callback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fqlsync/internal/wire"
)

// Func receives the payload of a correlated reply. It is invoked at most once.
type Func func(wire.Reply)

type pending struct {
	fn    Func
	timer *time.Timer
}

// Registry maps references to pending completions.
//
// INVARIANTS:
//   - A reference is allocated once and never reused
//   - An entry is removed before its callback runs (exactly-once delivery)
//   - Resolving an absent reference is a silent no-op
type Registry struct {
	mu      sync.Mutex
	seq     *Sequence
	pending map[int64]pending
	timeout time.Duration

	// OnTimeout, when set, observes every reference that expired.
	OnTimeout func(ref int64)

	// OnDue, when set, receives references whose timer fired instead of
	// having them expired on the timer goroutine. The owner completes them
	// later with Expire from the goroutine that runs its callbacks.
	OnDue func(ref int64)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout expires pending calls after d. The callback then receives a
// 408 reply and a late worker reply for the same reference is dropped.
// Zero (the default) waits forever.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// NewRegistry creates a registry that allocates references from seq.
func NewRegistry(seq *Sequence, opts ...Option) *Registry {
	r := &Registry{
		seq:     seq,
		pending: make(map[int64]pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores fn and returns the reference to put on the request.
// A nil fn still gets a reference so the request stays correlatable.
func (r *Registry) Register(fn Func) int64 {
	ref := r.seq.Next()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := pending{fn: fn}
	if r.timeout > 0 {
		entry.timer = time.AfterFunc(r.timeout, func() {
			r.due(ref)
		})
	}
	r.pending[ref] = entry

	return ref
}

// Resolve removes the callback for ref and invokes it with reply.
// Returns false if no callback was pending for ref.
func (r *Registry) Resolve(ref int64, reply wire.Reply) bool {
	entry, ok := r.take(ref)
	if !ok {
		return false
	}

	if entry.fn != nil {
		entry.fn(reply)
	}
	return true
}

// Discard drops the callback for ref without invoking it.
func (r *Registry) Discard(ref int64) bool {
	_, ok := r.take(ref)
	return ok
}

// Pending reports whether ref is still waiting for a reply.
func (r *Registry) Pending(ref int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[ref]
	return ok
}

// Len returns the number of pending callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// take removes and returns the entry for ref. The lock is released before
// any callback runs so callbacks may register new calls.
func (r *Registry) take(ref int64) (pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[ref]
	if !ok {
		return pending{}, false
	}
	delete(r.pending, ref)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, true
}

func (r *Registry) due(ref int64) {
	if r.OnDue != nil {
		r.OnDue(ref)
		return
	}
	r.Expire(ref)
}

// Expire completes ref with a 408 reply. Returns false if ref was already
// resolved, discarded or expired.
func (r *Registry) Expire(ref int64) bool {
	entry, ok := r.take(ref)
	if !ok {
		return false
	}

	slog.Warn("pending call timed out",
		"ref", ref,
		"timeout", r.timeout,
	)
	if r.OnTimeout != nil {
		r.OnTimeout(ref)
	}
	if entry.fn != nil {
		entry.fn(wire.Reply{Status: wire.StatusTimeout, Message: "request timed out"})
	}
	return true
}
