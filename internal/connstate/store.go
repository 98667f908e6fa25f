package connstate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/fqlsync/internal/wire"
)

// ErrInvalidStatus is returned by ApplyStatus for codes outside the success
// and authorization-failure classes.
var ErrInvalidStatus = errors.New("invalid connection status")

// ErrUnknownConnection is returned when mutating a connection that was never
// created or is already closed.
var ErrUnknownConnection = errors.New("unknown connection")

// Handle identifies one unauthorized subscription.
type Handle uuid.UUID

// String returns the hyphenated form of the handle.
func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// Subscriber receives the failure reply of an authorization-failure event.
type Subscriber func(wire.Reply)

type subscription struct {
	handle Handle
	fn     Subscriber
}

// Store holds one Record per connection.
//
// Records are replaced copy-on-write under the mutex: readers get snapshots
// and never observe a partial update. Closed connections map to the empty
// record.
//
// Thread-safety: all methods are safe from any goroutine. Subscriber
// callbacks are never invoked by the store itself.
type Store struct {
	mu          sync.RWMutex
	records     map[int]Record
	subscribers map[int][]subscription
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:     make(map[int]Record),
		subscribers: make(map[int][]subscription),
	}
}

// Create installs a fresh record, replacing any previous one with the same id.
// The record starts not ready; initial.ID is overwritten with id.
func (s *Store) Create(id int, initial Record) Record {
	rec := initial.clone()
	rec.ID = id
	rec.Ready = false
	rec.Unauthorized = false
	if rec.AuthMode == "" {
		rec.AuthMode = AuthUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec
	return rec
}

// Get returns the current record or the empty record when id is closed or
// unknown.
func (s *Store) Get(id int) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// IDs returns the ids of every open connection.
func (s *Store) IDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.records))
	for id, rec := range s.records {
		if !rec.IsEmpty() {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsReady reports whether the connection has been acknowledged.
func (s *Store) IsReady(id int) bool {
	return s.Get(id).Ready
}

// IsClosed reports whether the connection holds the empty record.
func (s *Store) IsClosed(id int) bool {
	return s.Get(id).IsEmpty()
}

// Phase returns the lifecycle phase of the connection.
func (s *Store) Phase(id int) Phase {
	return s.Get(id).Phase()
}

// update applies fn to a copy of the record and stores the copy.
func (s *Store) update(id int, fn func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.IsEmpty() {
		return Record{}, fmt.Errorf("connection %d: %w", id, ErrUnknownConnection)
	}
	next := rec.clone()
	fn(&next)
	s.records[id] = next
	return next, nil
}

// MarkReady moves the connection to Ready. Identity is untouched.
func (s *Store) MarkReady(id int) error {
	_, err := s.update(id, func(r *Record) {
		r.Ready = true
		r.Unauthorized = false
	})
	return err
}

// MarkUnauthorized moves the connection to Unauthorized and clears identity.
func (s *Store) MarkUnauthorized(id int) error {
	_, err := s.update(id, func(r *Record) {
		r.Ready = false
		r.Unauthorized = true
		r.Identity = &Identity{Anonymous: true}
	})
	return err
}

// SetIdentity replaces the identity of the connection. An identity that
// carries only a token, or only a user, moves the record to the matching
// auth mode; one carrying both keeps the current mode.
func (s *Store) SetIdentity(id int, identity Identity) error {
	_, err := s.update(id, func(r *Record) {
		r.Identity = &identity
		switch {
		case identity.Token != "" && identity.User == nil:
			r.AuthMode = AuthToken
		case identity.User != nil && identity.Token == "":
			r.AuthMode = AuthUser
		}
	})
	return err
}

// ClearIdentity resets the identity to anonymous.
func (s *Store) ClearIdentity(id int) error {
	_, err := s.update(id, func(r *Record) {
		r.Identity = &Identity{Anonymous: true}
	})
	return err
}

// SetTimeOverride pins the connection to t, or back to live when t is nil.
func (s *Store) SetTimeOverride(id int, t *time.Time) error {
	_, err := s.update(id, func(r *Record) {
		if t == nil {
			r.TimeOverride = nil
			return
		}
		pinned := *t
		r.TimeOverride = &pinned
	})
	return err
}

// Reset re-initialises the connection to not ready with an anonymous
// identity. The time override and subscribers are kept.
func (s *Store) Reset(id int) error {
	_, err := s.update(id, func(r *Record) {
		r.Ready = false
		r.Unauthorized = false
		r.Identity = &Identity{Anonymous: true}
	})
	return err
}

// Close replaces the record with the empty sentinel and drops subscribers.
func (s *Store) Close(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = Record{}
	delete(s.subscribers, id)
}

// ApplyStatus applies a connection status acknowledgment.
//
// Success-class codes move to Ready; authorization-failure codes move to
// Unauthorized. Any other code returns ErrInvalidStatus and leaves the
// record untouched.
func (s *Store) ApplyStatus(id int, code int) (Phase, error) {
	var err error
	switch {
	case wire.IsSuccess(code):
		err = s.MarkReady(id)
	case wire.IsAuthFailure(code):
		err = s.MarkUnauthorized(id)
	default:
		slog.Warn("invalid connection status",
			"conn", id,
			"status", code,
		)
		return s.Phase(id), fmt.Errorf("connection %d status %d: %w", id, code, ErrInvalidStatus)
	}
	if err != nil {
		return PhaseClosed, err
	}
	return s.Phase(id), nil
}

// Subscribe registers fn to receive authorization-failure replies for id.
func (s *Store) Subscribe(id int, fn Subscriber) Handle {
	h := Handle(uuid.New())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = append(s.subscribers[id], subscription{handle: h, fn: fn})
	return h
}

// Unsubscribe removes the subscription h. Returns false if it was not found.
func (s *Store) Unsubscribe(id int, h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[id]
	for i, sub := range subs {
		if sub.handle == h {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			s.subscribers[id] = next
			return true
		}
	}
	return false
}

// Subscribers returns a snapshot of the subscribers of id in subscription
// order. The caller invokes them without holding any store lock.
func (s *Store) Subscribers(id int) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.subscribers[id]
	out := make([]Subscriber, len(subs))
	for i, sub := range subs {
		out[i] = sub.fn
	}
	return out
}
