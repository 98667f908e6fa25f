package client

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fqlsync/internal/binding"
	"github.com/roach88/fqlsync/internal/callback"
	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/connstate"
	"github.com/roach88/fqlsync/internal/credstore"
	"github.com/roach88/fqlsync/internal/query"
	"github.com/roach88/fqlsync/internal/wire"
)

// Conn is one logical connection multiplexed over the client's channel.
// Every method returns immediately; effects arrive later as worker events.
type Conn struct {
	client   *Client
	id       int
	settings Settings
}

var _ binding.Conn = (*Conn)(nil)

// Credentials are a username/password login.
type Credentials struct {
	Username string
	Password string
}

// ID returns the connection id.
func (c *Conn) ID() int {
	return c.id
}

// Instance returns the instance the connection was created for.
func (c *Conn) Instance() string {
	return c.settings.Instance
}

// Settings returns the settings sent with the connect request.
func (c *Conn) Settings() Settings {
	return c.settings
}

// Record returns a snapshot of the connection state.
func (c *Conn) Record() connstate.Record {
	return c.client.conns.Get(c.id)
}

// IsReady reports whether the worker acknowledged the connection.
func (c *Conn) IsReady() bool {
	return c.client.conns.IsReady(c.id)
}

// IsClosed reports whether the connection was closed.
func (c *Conn) IsClosed() bool {
	return c.client.conns.IsClosed(c.id)
}

// IsAuthenticated reports whether a non-anonymous identity is held.
func (c *Conn) IsAuthenticated() bool {
	return c.Record().Authenticated()
}

// User returns the current user, or nil.
func (c *Conn) User() any {
	return c.Record().User()
}

// Token returns the current token, or "".
func (c *Conn) Token() string {
	return c.Record().Token()
}

// Time returns the time override, or nil when live.
func (c *Conn) Time() *time.Time {
	return c.Record().TimeOverride
}

// Login submits a username/password login. On success the identity from the
// reply is recorded; with rememberMe it is also persisted and restored by
// the next Connect for the same instance.
func (c *Conn) Login(creds Credentials, cb callback.Func, rememberMe bool) {
	username := norm.NFC.String(creds.Username)

	if rememberMe && c.client.creds != nil {
		user := cb
		cb = func(reply wire.Reply) {
			if wire.IsSuccess(reply.Status) && len(reply.Body) > 0 {
				c.remember(reply.Body)
			}
			if user != nil {
				user(reply)
			}
		}
	}

	c.client.call(c.id, wire.ActionLogin, []any{username, creds.Password}, cb)
}

func (c *Conn) remember(body []byte) {
	key := credstore.LoginKey(c.settings.Instance)
	if err := c.client.creds.Put(context.Background(), key, body); err != nil {
		slog.Warn("remember login failed", "conn", c.id, "error", err)
	}
}

func (c *Conn) forget() {
	if c.client.creds == nil {
		return
	}
	key := credstore.LoginKey(c.settings.Instance)
	if err := c.client.creds.Delete(context.Background(), key); err != nil {
		slog.Warn("forget login failed", "conn", c.id, "error", err)
	}
}

// Logout drops the identity locally, forgets any remembered login and asks
// the worker to log out.
func (c *Conn) Logout(cb callback.Func) {
	if err := c.client.conns.Reset(c.id); err != nil {
		slog.Debug("logout on closed connection", "conn", c.id)
	}
	c.forget()
	c.client.call(c.id, wire.ActionLogout, []any{}, cb)
}

// Reset drops readiness and identity locally and asks the worker to reset
// the connection.
func (c *Conn) Reset(cb callback.Func) {
	if err := c.client.conns.Reset(c.id); err != nil {
		slog.Debug("reset on closed connection", "conn", c.id)
	}
	c.client.metrics.Transition(string(connstate.PhaseConnecting))
	c.client.call(c.id, wire.ActionReset, []any{}, cb)
}

// Close empties the local record and asks the worker to close the
// connection.
func (c *Conn) Close(cb callback.Func) {
	c.client.conns.Close(c.id)
	c.client.metrics.Transition(string(connstate.PhaseClosed))
	c.client.call(c.id, wire.ActionClose, []any{}, cb)
}

// Invoke calls a remote action with params.
func (c *Conn) Invoke(action string, params any, cb callback.Func) {
	c.client.call(c.id, wire.ActionRemoteInvoke, []any{[]any{action, params}}, cb)
}

// ForceTime pins every query on the connection to t, or returns them to
// live when t is nil. Each bound component re-registers once.
func (c *Conn) ForceTime(t *time.Time) {
	if err := c.client.conns.SetTimeOverride(c.id, t); err != nil {
		slog.Debug("time override on closed connection", "conn", c.id)
		return
	}

	n := 0
	c.client.components.Each(c.id, func(_ int64, inst component.Instance) {
		if r, ok := inst.(component.Retimer); ok {
			r.Retime(t)
			n++
		}
	})
	slog.Debug("time override applied", "conn", c.id, "components", n)
}

// Unauthorized returns the connection's authorization-failure subscriptions.
func (c *Conn) Unauthorized() Subscriptions {
	return Subscriptions{conns: c.client.conns, id: c.id}
}

// Provider returns a binding provider for the connection.
func (c *Conn) Provider() (*binding.Provider, error) {
	if c == nil {
		return binding.NewProvider(nil)
	}
	return binding.NewProvider(c)
}

// Bind creates an unmounted binding on the connection.
func (c *Conn) Bind(src query.Source, opts query.Options, props query.Props, render binding.RenderFunc) (*binding.Binding, error) {
	if c == nil {
		return binding.New(nil, src, opts, props, render)
	}
	return binding.New(c, src, opts, props, render)
}

// NewComponentID allocates a component id from the client sequence.
func (c *Conn) NewComponentID() int64 {
	return c.client.seq.Next()
}

// Attach registers inst for state pushes under id.
func (c *Conn) Attach(id int64, inst component.Instance) {
	c.client.components.Register(id, c.id, inst)
}

// Detach stops state pushes to id.
func (c *Conn) Detach(id int64) {
	c.client.components.Unregister(id)
}

// RegisterQuery submits or replaces the worker registration for component id.
// The component id doubles as the request reference; state pushes carry it.
func (c *Conn) RegisterQuery(id int64, q query.Query, opts query.Options) {
	c.client.submit(wire.Request{
		ConnectionID: c.id,
		Action:       wire.ActionRegisterQuery,
		Reference:    id,
		Parameters:   []any{id, q, opts},
	})
}

// UnregisterQuery removes the worker registration for component id.
func (c *Conn) UnregisterQuery(id int64) {
	c.client.submit(wire.Request{
		ConnectionID: c.id,
		Action:       wire.ActionUnregisterQuery,
		Reference:    id,
		Parameters:   []any{id},
	})
}

// Subscriptions manages unauthorized callbacks for one connection.
type Subscriptions struct {
	conns *connstate.Store
	id    int
}

// Add subscribes fn and returns its handle.
func (s Subscriptions) Add(fn connstate.Subscriber) connstate.Handle {
	return s.conns.Subscribe(s.id, fn)
}

// Remove unsubscribes h. Returns false if it was not subscribed.
func (s Subscriptions) Remove(h connstate.Handle) bool {
	return s.conns.Unsubscribe(s.id, h)
}
