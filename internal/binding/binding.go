// Package binding drives the lifecycle of one component's query against a
// connection: mount, prop changes, forced refresh, time override and unmount.
package binding

import (
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/query"
)

// WarningNoQuery is rendered while a binding has no query.
const WarningNoQuery = "No query yet, waiting..."

// Lifecycle is the registration state of a binding.
type Lifecycle string

const (
	Unbound      Lifecycle = "unbound"
	Pending      Lifecycle = "pending"
	Registered   Lifecycle = "registered"
	Unregistered Lifecycle = "unregistered"
)

// RenderFunc receives fresh data every time the binding's state changes.
type RenderFunc func(Data)

// Binding ties one component to its query.
//
// INVARIANTS:
//   - The component id is allocated once and reused by every re-registration
//   - Resolved variables and their sources are decided at mount
//   - Unmount sends unregisterQuery before the component is detached
//
// Thread-safety: methods may be called from any goroutine. The render
// callback and connection calls run without the binding lock held.
type Binding struct {
	mu sync.Mutex

	conn   Conn
	id     int64
	source query.Source
	render RenderFunc

	q        query.Query
	opts     query.Options
	explicit map[string]any
	missing  []query.Var
	props    query.Props

	lifecycle Lifecycle
	local     component.State
}

var _ component.Instance = (*Binding)(nil)
var _ component.Retimer = (*Binding)(nil)

// New creates an unmounted binding. opts are copied; explicit vars in opts
// are never overwritten by resolution.
func New(conn Conn, src query.Source, opts query.Options, props query.Props, render RenderFunc) (*Binding, error) {
	if conn == nil {
		return nil, &ConfigError{
			Code:    ErrCodeNoConnection,
			Message: "could not find a connection for the binding",
		}
	}
	if render == nil {
		return nil, &ConfigError{
			Code:    ErrCodeNoRender,
			Message: "binding needs a render callback",
		}
	}

	b := &Binding{
		conn:      conn,
		id:        conn.NewComponentID(),
		source:    src,
		render:    render,
		opts:      opts.Clone(),
		explicit:  maps.Clone(opts.Vars),
		props:     maps.Clone(props),
		lifecycle: Unbound,
	}
	b.q = src.Eval(b.props, b.context())
	b.local = initialState(b.q)
	return b, nil
}

func initialState(q query.Query) component.State {
	st := component.State{
		"result":  map[string]any{},
		"error":   nil,
		"warning": nil,
		"status":  StatusPending,
	}
	switch {
	case q.IsZero():
		st["warning"] = WarningNoQuery
	case q.Valid():
		st["result"] = q.DefaultResult()
	default:
		st["error"] = query.Validate(q)
	}
	return st
}

// ID returns the component identifier.
func (b *Binding) ID() int64 {
	return b.id
}

// Lifecycle returns the registration state.
func (b *Binding) Lifecycle() Lifecycle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lifecycle
}

// Query returns the current query.
func (b *Binding) Query() query.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q
}

// Options returns a copy of the current options including resolved vars.
func (b *Binding) Options() query.Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.Clone()
}

// ResolvedVars returns the variables the binding fills itself.
func (b *Binding) ResolvedVars() []query.Var {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]query.Var(nil), b.missing...)
}

func (b *Binding) context() query.Context {
	return query.Context{
		ConnectionID: b.conn.ID(),
		Instance:     b.conn.Instance(),
		User:         b.conn.User(),
	}
}

// Mount resolves variables, attaches the binding for dispatch and registers
// the query when it is valid. Mounting twice is a no-op.
func (b *Binding) Mount() {
	user := b.conn.User()
	at := b.conn.Time()

	b.mu.Lock()
	if b.lifecycle != Unbound {
		b.mu.Unlock()
		return
	}
	if b.q.Valid() {
		b.missing = query.Missing(b.q, b.explicit)
		query.Fill(b.opts.Vars, b.missing, b.props, user)
	}
	b.opts.ForceTime = copyTime(at)

	register := b.q.Valid()
	if register {
		b.lifecycle = Registered
	} else {
		b.lifecycle = Pending
	}
	q, opts := b.q, b.opts.Clone()
	data := b.dataLocked()
	b.mu.Unlock()

	b.conn.Attach(b.id, b)
	if register {
		b.conn.RegisterQuery(b.id, q, opts)
	} else {
		slog.Debug("binding pending",
			"component", b.id,
			"conn", b.conn.ID(),
			"warning", data.Warning,
		)
	}
	b.render(data)
}

// UpdateProps applies new props.
//
// A query function is re-evaluated and re-registered when valid. A static
// query is re-registered only when a prop backing a resolved variable
// changed, and then every resolved variable is refilled.
func (b *Binding) UpdateProps(props query.Props) {
	props = maps.Clone(props)
	user := b.conn.User()
	ctx := b.context()

	b.mu.Lock()
	if b.lifecycle == Unregistered {
		b.mu.Unlock()
		return
	}
	old := b.props
	b.props = props
	mounted := b.lifecycle != Unbound

	var register, rerender bool
	if b.source.IsFunc() {
		b.q = b.source.Eval(props, ctx)
		switch {
		case b.q.IsZero():
			b.local["warning"] = WarningNoQuery
			rerender = true
		case b.q.Valid():
			b.missing = query.Missing(b.q, b.explicit)
			b.opts.Vars = maps.Clone(b.explicit)
			if b.opts.Vars == nil {
				b.opts.Vars = make(map[string]any)
			}
			query.Fill(b.opts.Vars, b.missing, props, user)
			if isEmptyResult(b.local["result"]) {
				b.local["result"] = b.q.DefaultResult()
			}
			b.local["error"] = nil
			b.local["warning"] = nil
			register = mounted
			rerender = true
		default:
			b.local["error"] = query.Validate(b.q)
			b.local["warning"] = nil
			rerender = true
		}
	} else if b.q.Valid() && varsChanged(b.missing, old, props) {
		query.Fill(b.opts.Vars, b.missing, props, user)
		register = mounted
	}

	if register {
		b.lifecycle = Registered
	}
	q, opts := b.q, b.opts.Clone()
	data := b.dataLocked()
	b.mu.Unlock()

	if register {
		b.conn.RegisterQuery(b.id, q, opts)
	}
	if rerender && mounted {
		b.render(data)
	}
}

// varsChanged compares the props backing prop-sourced variables.
func varsChanged(vs []query.Var, old, next query.Props) bool {
	for _, v := range vs {
		if v.Source != query.FromProp {
			continue
		}
		if !reflect.DeepEqual(old[v.Name], next[v.Name]) {
			return true
		}
	}
	return false
}

func isEmptyResult(v any) bool {
	m, ok := v.(map[string]any)
	return v == nil || (ok && len(m) == 0)
}

// ForceUpdate re-registers the query with the force flag set for this one
// request.
func (b *Binding) ForceUpdate() {
	b.mu.Lock()
	if b.lifecycle != Registered {
		b.mu.Unlock()
		return
	}
	q, opts := b.q, b.opts.Clone()
	b.mu.Unlock()

	opts.Force = true
	b.conn.RegisterQuery(b.id, q, opts)
}

// Retime sets or clears the time override and re-registers a registered
// query once.
func (b *Binding) Retime(t *time.Time) {
	b.mu.Lock()
	if b.lifecycle == Unregistered {
		b.mu.Unlock()
		return
	}
	b.opts.ForceTime = copyTime(t)
	register := b.lifecycle == Registered
	q, opts := b.q, b.opts.Clone()
	b.mu.Unlock()

	if register {
		b.conn.RegisterQuery(b.id, q, opts)
	}
}

// Unmount unregisters the query and then detaches the binding. Terminal.
func (b *Binding) Unmount() {
	b.mu.Lock()
	if b.lifecycle == Unbound || b.lifecycle == Unregistered {
		b.lifecycle = Unregistered
		b.mu.Unlock()
		return
	}
	b.lifecycle = Unregistered
	b.mu.Unlock()

	b.conn.UnregisterQuery(b.id)
	b.conn.Detach(b.id)
}

// ApplyState merges a worker patch into local state and re-renders.
func (b *Binding) ApplyState(patch component.State) {
	b.mu.Lock()
	if b.lifecycle == Unregistered {
		b.mu.Unlock()
		return
	}
	for k, v := range patch {
		b.local[k] = v
	}
	data := b.dataLocked()
	b.mu.Unlock()

	b.render(data)
}

// Data returns the current render data.
func (b *Binding) Data() Data {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataLocked()
}

func (b *Binding) dataLocked() Data {
	status, _ := b.local["status"].(string)
	warning, _ := b.local["warning"].(string)
	return Data{
		ID:          b.id,
		Result:      b.local["result"],
		Error:       b.errorValue(),
		Warning:     warning,
		Status:      status,
		Loading:     !(status == StatusLoaded || status == StatusError),
		forceUpdate: b.ForceUpdate,
		invoke:      b.conn.Invoke,
	}
}

// errorValue hides a typed nil ValidationError behind a plain nil.
func (b *Binding) errorValue() any {
	switch e := b.local["error"].(type) {
	case *query.ValidationError:
		if e == nil {
			return nil
		}
		return e
	default:
		return e
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
