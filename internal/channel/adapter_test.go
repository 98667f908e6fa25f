package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fqlsync/internal/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []wire.Request
	sendErr error
	closed  bool
}

func (f *fakeTransport) Send(req wire.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDialer struct {
	dials     []string
	transport *fakeTransport
	err       error
}

func (d *fakeDialer) Dial(_ context.Context, url string, _ Handlers) (Transport, error) {
	d.dials = append(d.dials, url)
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) record(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func TestAdapter_EnsureOpensOnce(t *testing.T) {
	d := &fakeDialer{transport: &fakeTransport{}}
	a := NewAdapter(d, Handlers{})

	require.NoError(t, a.Ensure(context.Background(), "ws://one"))
	require.NoError(t, a.Ensure(context.Background(), "ws://two"))

	assert.Equal(t, []string{"ws://one"}, d.dials)
	assert.True(t, a.Open())
}

func TestAdapter_EnsureFailureIsReportedAndRetryable(t *testing.T) {
	errs := &errorLog{}
	d := &fakeDialer{err: errors.New("refused")}
	a := NewAdapter(d, Handlers{OnError: errs.record})

	err := a.Ensure(context.Background(), "ws://down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Len(t, errs.errs, 1)
	assert.False(t, a.Open())

	d.err = nil
	d.transport = &fakeTransport{}
	require.NoError(t, a.Ensure(context.Background(), "ws://up"))
	assert.True(t, a.Open())
}

func TestAdapter_Send(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAdapter(&fakeDialer{transport: tr}, Handlers{})
	require.NoError(t, a.Ensure(context.Background(), ""))

	a.Send(wire.Request{Action: wire.ActionConnect})

	require.Len(t, tr.sent, 1)
	assert.Equal(t, wire.ActionConnect, tr.sent[0].Action)
}

func TestAdapter_SendErrorsGoToHandler(t *testing.T) {
	errs := &errorLog{}
	tr := &fakeTransport{sendErr: errors.New("broken pipe")}
	a := NewAdapter(&fakeDialer{transport: tr}, Handlers{OnError: errs.record})

	// Before the transport exists
	a.Send(wire.Request{Action: wire.ActionLogin})
	require.Len(t, errs.errs, 1)
	assert.ErrorIs(t, errs.errs[0], ErrNotOpen)

	require.NoError(t, a.Ensure(context.Background(), ""))
	assert.NotPanics(t, func() {
		a.Send(wire.Request{Action: wire.ActionLogin})
	})
	require.Len(t, errs.errs, 2)
	assert.Contains(t, errs.errs[1].Error(), "broken pipe")
}

func TestAdapter_Close(t *testing.T) {
	a := NewAdapter(&fakeDialer{}, Handlers{})
	assert.NoError(t, a.Close(), "closing an unopened adapter is a no-op")

	tr := &fakeTransport{}
	a = NewAdapter(&fakeDialer{transport: tr}, Handlers{})
	require.NoError(t, a.Ensure(context.Background(), ""))
	require.NoError(t, a.Close())
	assert.True(t, tr.closed)
}
