// Package connstate tracks per-connection readiness, identity and time
// override for every logical connection multiplexed over the worker channel.
package connstate

import "time"

// Phase is the lifecycle position of a connection.
type Phase string

const (
	PhaseConnecting   Phase = "connecting"
	PhaseReady        Phase = "ready"
	PhaseUnauthorized Phase = "unauthorized"
	PhaseClosed       Phase = "closed"
)

// AuthMode selects which Identity field carries the session.
type AuthMode string

const (
	// AuthUser sessions are identified by a user value plus an anonymous flag.
	AuthUser AuthMode = "user"
	// AuthToken sessions are identified by an opaque token.
	AuthToken AuthMode = "token"
)

// Identity is the authenticated principal of a connection.
type Identity struct {
	User      any    `json:"user,omitempty"`
	Anonymous bool   `json:"anonymous"`
	Token     string `json:"token,omitempty"`
}

// Record is an immutable snapshot of one connection.
// Mutations replace the whole record, so a Record obtained from Get is never
// modified afterwards.
type Record struct {
	ID           int
	Instance     string
	AuthMode     AuthMode
	Ready        bool
	Unauthorized bool
	Identity     *Identity
	TimeOverride *time.Time
}

// IsEmpty reports whether r is the closed sentinel.
func (r Record) IsEmpty() bool {
	return r.ID == 0
}

// Phase derives the lifecycle phase from the record fields.
func (r Record) Phase() Phase {
	switch {
	case r.IsEmpty():
		return PhaseClosed
	case r.Ready:
		return PhaseReady
	case r.Unauthorized:
		return PhaseUnauthorized
	default:
		return PhaseConnecting
	}
}

// Authenticated reports whether the record holds a non-anonymous session.
func (r Record) Authenticated() bool {
	if r.Identity == nil {
		return false
	}
	if r.AuthMode == AuthToken {
		return r.Identity.Token != ""
	}
	return !r.Identity.Anonymous && r.Identity.User != nil
}

// User returns the identity's user value, or nil.
func (r Record) User() any {
	if r.Identity == nil {
		return nil
	}
	return r.Identity.User
}

// Token returns the identity's token, or "".
func (r Record) Token() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.Token
}

func (r Record) clone() Record {
	c := r
	if r.Identity != nil {
		id := *r.Identity
		c.Identity = &id
	}
	if r.TimeOverride != nil {
		t := *r.TimeOverride
		c.TimeOverride = &t
	}
	return c
}
