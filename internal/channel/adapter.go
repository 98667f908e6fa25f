package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/fqlsync/internal/wire"
)

// ErrNotOpen is reported when sending before the transport exists.
var ErrNotOpen = errors.New("channel not open")

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("channel closed")

// Handlers receive inbound traffic. Both must be safe to call from the
// transport's reader goroutine.
type Handlers struct {
	OnEvent func(wire.Event)
	OnError func(error)
}

func (h Handlers) event(ev wire.Event) {
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Transport is an open channel to the worker.
type Transport interface {
	Send(req wire.Request) error
	Close() error
}

// Dialer opens a transport to the worker at url.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handlers) (Transport, error)
}

// Adapter wraps the lazily created transport.
//
// Thread-safety: all methods are safe from any goroutine. Send does not
// hold the adapter lock while the transport writes.
type Adapter struct {
	mu        sync.Mutex
	dialer    Dialer
	handlers  Handlers
	transport Transport
	url       string
}

// NewAdapter creates an adapter with no transport yet.
func NewAdapter(dialer Dialer, h Handlers) *Adapter {
	return &Adapter{dialer: dialer, handlers: h}
}

// Ensure opens the transport if it is not open yet. Later calls are no-ops,
// whatever url they pass. A failed dial is reported and leaves the adapter
// closed so a later Ensure may try again.
func (a *Adapter) Ensure(ctx context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.transport != nil {
		if url != a.url {
			slog.Debug("worker channel already open",
				"url", a.url,
				"requested_url", url,
			)
		}
		return nil
	}

	t, err := a.dialer.Dial(ctx, url, a.handlers)
	if err != nil {
		err = fmt.Errorf("open worker channel %s: %w", url, err)
		slog.Error("worker channel failed", "url", url, "error", err)
		a.handlers.error(err)
		return err
	}

	slog.Debug("worker channel open", "url", url)
	a.transport = t
	a.url = url
	return nil
}

// Open reports whether the transport exists.
func (a *Adapter) Open() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport != nil
}

// Send writes req to the transport. Errors go to the error handler.
func (a *Adapter) Send(req wire.Request) {
	a.mu.Lock()
	t := a.transport
	a.mu.Unlock()

	if t == nil {
		a.report(req, ErrNotOpen)
		return
	}
	if err := t.Send(req); err != nil {
		a.report(req, err)
	}
}

func (a *Adapter) report(req wire.Request, err error) {
	err = fmt.Errorf("send %s: %w", req.Action, err)
	slog.Warn("worker channel send failed",
		"action", req.Action,
		"conn", req.ConnectionID,
		"ref", req.Reference,
		"error", err,
	)
	a.handlers.error(err)
}

// Close closes the transport. The adapter cannot be reopened.
func (a *Adapter) Close() error {
	a.mu.Lock()
	t := a.transport
	a.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}
