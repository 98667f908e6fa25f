package client

import (
	"sync"

	"github.com/roach88/fqlsync/internal/wire"
)

// inbound is one unit of work for the event loop: a worker event, or a
// pending call whose timeout fired (expired != 0).
type inbound struct {
	event   wire.Event
	expired int64
}

// inbox hands work from transport readers and call timers to the single
// goroutine running Run or Drain. The loop takes the whole backlog at once,
// so producers only contend for the lock long enough to append.
type inbox struct {
	mu      sync.Mutex
	backlog []inbound
	spare   []inbound
	closed  bool
	wake    chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		backlog: make([]inbound, 0, 64),
		wake:    make(chan struct{}, 1),
	}
}

// push appends item unless the inbox is closed.
func (q *inbox) push(item inbound) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.backlog = append(q.backlog, item)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// takeAll returns everything queued so far in arrival order. The returned
// slice is only valid until the next takeAll.
func (q *inbox) takeAll() []inbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.backlog
	clear(q.spare)
	q.backlog = q.spare[:0]
	q.spare = batch
	return batch
}

// ready signals when work may be queued, and is closed with the inbox.
func (q *inbox) ready() <-chan struct{} {
	return q.wake
}

// idle reports whether the inbox is closed and nothing is left to take.
func (q *inbox) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.backlog) == 0
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}
