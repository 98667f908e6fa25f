package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/fqlsync/internal/wire"
)

// Worker is an in-process worker.
type Worker interface {
	// Start is called once when the pipe opens. emit delivers an event to
	// the client and may be called from any goroutine.
	Start(emit func(wire.Event))

	// Handle receives every request in send order.
	Handle(req wire.Request)
}

// PipeDialer connects to an in-process Worker. Requests are passed through
// their JSON encoding so the worker sees exactly what a remote one would.
type PipeDialer struct {
	Worker Worker
}

// Dial starts the worker. The url is ignored.
func (d PipeDialer) Dial(_ context.Context, _ string, h Handlers) (Transport, error) {
	if d.Worker == nil {
		return nil, fmt.Errorf("pipe dialer has no worker")
	}

	p := &pipe{worker: d.Worker, handlers: h}
	d.Worker.Start(p.emit)
	return p, nil
}

type pipe struct {
	mu       sync.Mutex
	worker   Worker
	handlers Handlers
	closed   bool
}

func (p *pipe) Send(req wire.Request) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	decoded, err := roundTrip(req)
	if err != nil {
		return err
	}
	p.worker.Handle(decoded)
	return nil
}

func (p *pipe) emit(ev wire.Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.handlers.event(ev)
}

func (p *pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// roundTrip encodes req and decodes it back with generic parameters.
func roundTrip(req wire.Request) (wire.Request, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return wire.Request{}, fmt.Errorf("encode request: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out wire.Request
	if err := dec.Decode(&out); err != nil {
		return wire.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return out, nil
}
