package outbound

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fqlsync/internal/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []wire.Request
}

func (s *recordingSender) Send(req wire.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
}

func (s *recordingSender) refs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]int64, len(s.sent))
	for i, r := range s.sent {
		refs[i] = r.Reference
	}
	return refs
}

func req(ref int64) wire.Request {
	return wire.Request{Action: wire.ActionRemoteInvoke, Reference: ref}
}

func TestQueue_BuffersUntilInitialize(t *testing.T) {
	s := &recordingSender{}
	q := New(s)

	q.Submit(req(1))
	q.Submit(req(2))

	assert.Empty(t, s.refs())
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Initialized())
}

func TestQueue_OrderingAcrossInitialize(t *testing.T) {
	s := &recordingSender{}
	q := New(s)

	q.Submit(req(1))
	q.Submit(req(2))
	q.Initialize()
	q.Submit(req(3))

	assert.Equal(t, []int64{1, 2, 3}, s.refs())
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Initialized())
}

func TestQueue_SecondInitializeIsNoop(t *testing.T) {
	s := &recordingSender{}
	q := New(s)

	q.Submit(req(1))
	q.Initialize()
	q.Initialize()

	assert.Equal(t, []int64{1}, s.refs())
}

func TestQueue_ReentrantSubmitDuringFlush(t *testing.T) {
	var q *Queue
	var sent []int64
	q = New(SenderFunc(func(r wire.Request) {
		sent = append(sent, r.Reference)
		// The first buffered request triggers a follow-up submission
		if r.Reference == 1 {
			q.Submit(req(10))
		}
	}))

	q.Submit(req(1))
	q.Submit(req(2))
	q.Initialize()

	require.Equal(t, []int64{1, 2, 10}, sent, "re-entrant request goes after the buffered ones")

	q.Submit(req(3))
	assert.Equal(t, []int64{1, 2, 10, 3}, sent)
}

func TestQueue_ConcurrentSubmitDuringFlush(t *testing.T) {
	s := &recordingSender{}
	q := New(s)

	for i := int64(1); i <= 100; i++ {
		q.Submit(req(i))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.Initialize()
	}()
	go func() {
		defer wg.Done()
		for i := int64(101); i <= 200; i++ {
			q.Submit(req(i))
		}
	}()
	wg.Wait()

	refs := s.refs()
	require.Len(t, refs, 200, "nothing lost or duplicated")

	seen := make(map[int64]bool)
	for _, r := range refs {
		assert.False(t, seen[r], "ref %d sent twice", r)
		seen[r] = true
	}

	// Buffered requests keep their order, and so do the late ones
	var early, late []int64
	for _, r := range refs {
		if r <= 100 {
			early = append(early, r)
		} else {
			late = append(late, r)
		}
	}
	for i := 1; i < len(early); i++ {
		assert.Less(t, early[i-1], early[i])
	}
	for i := 1; i < len(late); i++ {
		assert.Less(t, late[i-1], late[i])
	}
}
