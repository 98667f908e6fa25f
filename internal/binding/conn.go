package binding

import (
	"time"

	"github.com/roach88/fqlsync/internal/callback"
	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/query"
)

// Conn is the connection surface a binding drives.
type Conn interface {
	ID() int
	Instance() string
	User() any
	Time() *time.Time
	Invoke(action string, params any, cb callback.Func)

	// NewComponentID allocates an identifier from the shared sequence.
	NewComponentID() int64
	// Attach registers inst for worker-pushed state under id.
	Attach(id int64, inst component.Instance)
	// Detach removes id from dispatch.
	Detach(id int64)
	// RegisterQuery submits or replaces the worker registration for id.
	RegisterQuery(id int64, q query.Query, opts query.Options)
	// UnregisterQuery stops worker pushes for id.
	UnregisterQuery(id int64)
}

// Provider makes one connection available to many bindings.
type Provider struct {
	conn Conn
}

// NewProvider returns a provider for conn.
func NewProvider(conn Conn) (*Provider, error) {
	if conn == nil {
		return nil, &ConfigError{
			Code:    ErrCodeNoConnection,
			Message: "provider was not given a connection",
		}
	}
	return &Provider{conn: conn}, nil
}

// Conn returns the provided connection.
func (p *Provider) Conn() Conn {
	return p.conn
}

// Bind creates an unmounted binding on the provided connection.
func (p *Provider) Bind(src query.Source, opts query.Options, props query.Props, render RenderFunc) (*Binding, error) {
	if p == nil {
		return nil, &ConfigError{
			Code:    ErrCodeNoConnection,
			Message: "could not find a connection for the binding",
		}
	}
	return New(p.conn, src, opts, props, render)
}
