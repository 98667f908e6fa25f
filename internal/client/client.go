// Package client is the connection and query-synchronization context.
//
// A Client owns the worker channel, the outbound queue, the callback
// registry, the connection state store and the component registry, and
// hands each Conn a view onto them. A process normally holds one Client.
//
// Thread-safety model:
//   - Connect and every Conn method: safe from any goroutine
//   - Run or Drain: must be called from exactly one goroutine at a time
//
// Inbound events are queued by the transport and processed one at a time by
// Run (or Drain), so state transitions, dispatches and callbacks never race
// with each other.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/fqlsync/internal/callback"
	"github.com/roach88/fqlsync/internal/channel"
	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/connstate"
	"github.com/roach88/fqlsync/internal/credstore"
	"github.com/roach88/fqlsync/internal/metrics"
	"github.com/roach88/fqlsync/internal/outbound"
	"github.com/roach88/fqlsync/internal/wire"
)

// Client is the per-process synchronization context.
type Client struct {
	id string

	seq        *callback.Sequence
	calls      *callback.Registry
	conns      *connstate.Store
	components *component.Registry
	adapter    *channel.Adapter
	queue      *outbound.Queue
	inbox      *inbox

	dialer      channel.Dialer
	creds       credstore.Store
	metrics     *metrics.Metrics
	callTimeout time.Duration
	onError     func(error)

	connSeq atomic.Int64
	trace   atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithDialer sets the transport used to reach the worker.
// Default: channel.WebSocketDialer{}.
func WithDialer(d channel.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithCallTimeout expires correlated calls that get no reply within d.
// Zero (the default) waits forever.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithMetrics records client activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCredentialStore enables remember-me logins backed by s.
func WithCredentialStore(s credstore.Store) Option {
	return func(c *Client) {
		c.creds = s
	}
}

// WithErrorHandler observes worker channel errors.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onError = fn
	}
}

// WithSequence shares the identifier sequence, typically to start from a
// known value in tests.
func WithSequence(seq *callback.Sequence) Option {
	return func(c *Client) {
		c.seq = seq
	}
}

// New creates a client. No channel is opened until the first Connect.
func New(opts ...Option) *Client {
	c := &Client{
		id:         uuid.NewString(),
		seq:        callback.NewSequence(),
		conns:      connstate.NewStore(),
		components: component.NewRegistry(),
		inbox:      newInbox(),
		dialer:     channel.WebSocketDialer{},
	}

	for _, opt := range opts {
		opt(c)
	}

	var regOpts []callback.Option
	if c.callTimeout > 0 {
		regOpts = append(regOpts, callback.WithTimeout(c.callTimeout))
	}
	c.calls = callback.NewRegistry(c.seq, regOpts...)
	c.calls.OnTimeout = func(int64) { c.metrics.CallTimeout() }
	c.calls.OnDue = c.callDue
	c.components.OnDrop = func(int64) { c.metrics.DroppedDispatch() }

	c.adapter = channel.NewAdapter(c.dialer, channel.Handlers{
		OnEvent: c.receive,
		OnError: c.channelError,
	})
	c.queue = outbound.New(c.adapter)

	return c
}

// receive is the transport's inbound handler.
func (c *Client) receive(ev wire.Event) {
	if !c.inbox.push(inbound{event: ev}) {
		slog.Debug("event after client stopped", "event", ev.Name)
	}
}

// callDue runs on a timer goroutine. The 408 completion is queued so the
// callback fires from Run or Drain like every other reply.
func (c *Client) callDue(ref int64) {
	if !c.inbox.push(inbound{expired: ref}) {
		slog.Debug("call timeout after client stopped", "ref", ref)
	}
}

func (c *Client) channelError(err error) {
	c.metrics.ChannelError()
	if c.onError != nil {
		c.onError(err)
	}
}

// Connect opens the worker channel if needed, creates a connection record
// and submits the connect request. The request waits in the outbound queue
// until the worker signals connInit.
func (c *Client) Connect(ctx context.Context, settings Settings) (*Conn, error) {
	if settings.Instance == "" {
		return nil, &ConfigError{
			Code:    ErrCodeMissingInstance,
			Message: "connection settings need an instance",
			Field:   "instance",
		}
	}
	if c.dialer == nil {
		return nil, &ConfigError{
			Code:    ErrCodeNoDialer,
			Message: "client has no worker transport",
		}
	}

	if err := c.adapter.Ensure(ctx, settings.workerURL()); err != nil {
		return nil, err
	}

	id := int(c.connSeq.Add(1))
	settings.ID = id
	c.trace.Store(settings.Log)

	identity := settings.identity()
	if identity == nil {
		if restored := c.restoreLogin(ctx, settings.Instance); restored != nil {
			identity = restored
			settings.Token = restored.Token
			settings.User = restored.User
			settings.Anonymous = restored.Anonymous
		}
	}

	c.conns.Create(id, connstate.Record{
		Instance: settings.Instance,
		AuthMode: settings.authMode(),
		Identity: identity,
	})
	c.metrics.Transition(string(connstate.PhaseConnecting))

	slog.Info("connection created",
		"client", c.id,
		"conn", id,
		"instance", settings.Instance,
		"auth_mode", settings.authMode(),
	)

	// conn 0: the connect request is not connection specific.
	c.submit(wire.Request{
		ConnectionID: 0,
		Action:       wire.ActionConnect,
		Parameters:   []any{settings},
	})

	return &Conn{client: c, id: id, settings: settings}, nil
}

// restoreLogin returns the remembered identity for instance, if any.
func (c *Client) restoreLogin(ctx context.Context, instance string) *connstate.Identity {
	if c.creds == nil {
		return nil
	}

	data, err := c.creds.Get(ctx, credstore.LoginKey(instance))
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			slog.Warn("remembered login unreadable", "instance", instance, "error", err)
		}
		return nil
	}

	var identity connstate.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		slog.Warn("remembered login malformed", "instance", instance, "error", err)
		return nil
	}
	slog.Debug("remembered login restored", "instance", instance)
	return &identity
}

// submit hands req to the outbound queue.
func (c *Client) submit(req wire.Request) {
	c.metrics.RequestSent(string(req.Action))
	if c.trace.Load() {
		slog.Debug("worker request",
			"action", req.Action,
			"conn", req.ConnectionID,
			"ref", req.Reference,
		)
	}
	c.queue.Submit(req)
}

// call submits a connection action. A non-nil cb is registered first so a
// reply can never arrive before its callback exists.
func (c *Client) call(connID int, action wire.Action, params []any, cb callback.Func) int64 {
	var ref int64
	if cb != nil {
		ref = c.calls.Register(cb)
	}
	c.submit(wire.Request{
		ConnectionID: connID,
		Action:       action,
		Reference:    ref,
		Parameters:   params,
	})
	return ref
}

// Run processes inbound events until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// A failing event is logged and processing continues.
func (c *Client) Run(ctx context.Context) error {
	slog.Info("client starting", "client", c.id)

	for {
		batch := c.inbox.takeAll()
		for _, item := range batch {
			c.process(item)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("client stopping: context cancelled", "client", c.id)
			c.inbox.close()
			return ctx.Err()

		case <-c.inbox.ready():
			if c.inbox.idle() {
				slog.Info("client stopping: inbox closed", "client", c.id)
				return nil
			}
		}
	}
}

// Drain processes everything queued, including work queued while
// draining, and returns how many items were processed. Expired calls count
// as items. For embedders that pump events on their own schedule, and for
// tests.
func (c *Client) Drain() int {
	n := 0
	for {
		batch := c.inbox.takeAll()
		if len(batch) == 0 {
			return n
		}
		for _, item := range batch {
			c.process(item)
		}
		n += len(batch)
	}
}

func (c *Client) process(item inbound) {
	if item.expired != 0 {
		c.calls.Expire(item.expired)
	} else if err := c.processEvent(item.event); err != nil {
		logEventError(item.event, err)
	}
	c.metrics.SetDepths(c.queue.Len(), c.calls.Len(), c.components.Len())
}

// Stop makes Run return once the inbox is empty. Later events are dropped.
func (c *Client) Stop() {
	c.inbox.close()
}

// Close stops the client and closes the worker channel.
func (c *Client) Close() error {
	c.Stop()
	if err := c.adapter.Close(); err != nil {
		return fmt.Errorf("close worker channel: %w", err)
	}
	return nil
}

// Initialized reports whether the worker has signalled connInit.
func (c *Client) Initialized() bool {
	return c.queue.Initialized()
}

// Pending returns the number of calls waiting for a reply.
func (c *Client) Pending() int {
	return c.calls.Len()
}

// Components returns the number of bound components.
func (c *Client) Components() int {
	return c.components.Len()
}

// Buffered returns the number of requests waiting for connInit.
func (c *Client) Buffered() int {
	return c.queue.Len()
}

// logEventError logs a failed event with enough context to replay it.
func logEventError(ev wire.Event, err error) {
	slog.Error("event processing failed",
		"event", ev.Name,
		"conn", ev.ConnectionID,
		"ref", ev.Reference,
		"error", err,
	)
}
