// Package outbound buffers requests until the worker channel is initialized
// and then forwards them in submission order.
package outbound

import (
	"log/slog"
	"sync"

	"github.com/roach88/fqlsync/internal/wire"
)

// Sender delivers one request to the worker channel.
type Sender interface {
	Send(req wire.Request)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(req wire.Request)

// Send calls f(req).
func (f SenderFunc) Send(req wire.Request) { f(req) }

// Queue is a FIFO of outbound requests that switches from buffering to
// passthrough once Initialize has run.
//
// INVARIANTS:
//   - Requests leave the queue in the order they were submitted
//   - Each request is sent exactly once
//   - Requests submitted while the flush is running are drained by that flush
//   - The lock is never held while the sender runs
type Queue struct {
	mu          sync.Mutex
	requests    []wire.Request
	initialized bool
	flushing    bool
	sender      Sender
}

// New creates a buffering queue that will deliver to sender.
func New(sender Sender) *Queue {
	return &Queue{
		requests: make([]wire.Request, 0, 16),
		sender:   sender,
	}
}

// Submit sends req immediately once the queue is initialized and idle,
// otherwise appends it to the buffer.
// Thread-safe: may be called from any goroutine, including from the sender.
func (q *Queue) Submit(req wire.Request) {
	q.mu.Lock()
	if !q.initialized || q.flushing {
		q.requests = append(q.requests, req)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.sender.Send(req)
}

// Initialize flushes the buffer and switches to passthrough.
// Only the first call has any effect.
func (q *Queue) Initialize() {
	q.mu.Lock()
	if q.initialized {
		q.mu.Unlock()
		slog.Warn("outbound queue already initialized")
		return
	}
	q.initialized = true
	q.flushing = true
	slog.Debug("outbound queue flushing", "buffered", len(q.requests))
	q.mu.Unlock()

	for {
		req, ok := q.pop()
		if !ok {
			return
		}
		q.sender.Send(req)
	}
}

// pop removes the front request. When the buffer is empty it ends the
// flush under the same lock so no submission can slip between the two.
func (q *Queue) pop() (wire.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		q.flushing = false
		return wire.Request{}, false
	}

	req := q.requests[0]
	q.requests[0] = wire.Request{}
	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}
	return req, true
}

// Initialized reports whether Initialize has been called.
func (q *Queue) Initialized() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initialized
}

// Len returns the number of buffered requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
