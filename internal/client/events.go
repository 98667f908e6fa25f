package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/fqlsync/internal/component"
	"github.com/roach88/fqlsync/internal/connstate"
	"github.com/roach88/fqlsync/internal/metrics"
	"github.com/roach88/fqlsync/internal/wire"
)

// processEvent routes one inbound event.
// CRITICAL: Called only from Run or Drain.
//
// Order of effects for correlated events: event-specific state change,
// then the unauthorized broadcast, then the correlated callback.
func (c *Client) processEvent(ev wire.Event) error {
	c.metrics.EventReceived(string(ev.Name))
	if c.trace.Load() {
		slog.Debug("worker event",
			"event", ev.Name,
			"conn", ev.ConnectionID,
			"ref", ev.Reference,
			"data", string(ev.Data),
		)
	}

	if ev.Name == wire.EventSetState {
		return c.handleSetState(ev)
	}

	reply := ev.Reply()
	var err error

	switch ev.Name {
	case wire.EventConnInit:
		c.queue.Initialize()

	case wire.EventConnStatus:
		err = c.handleConnStatus(ev.ConnectionID, reply)

	case wire.EventLogin:
		err = c.handleLogin(ev.ConnectionID, reply)

	case wire.EventConnClosed, wire.EventConnLogout, wire.EventConnReset, wire.EventRemoteInvoke:
		// Local state was already updated when the request was made.

	default:
		slog.Warn("unrecognized worker event",
			"event", ev.Name,
			"conn", ev.ConnectionID,
			"ref", ev.Reference,
		)
		c.metrics.ProtocolError(metrics.KindUnknownEvent)
		return nil
	}

	if ev.ConnectionID != 0 && wire.IsAuthFailure(reply.Status) {
		c.broadcastUnauthorized(ev.ConnectionID, reply)
	}

	if ev.Reference != 0 {
		c.calls.Resolve(ev.Reference, reply)
	}

	return err
}

func (c *Client) handleSetState(ev wire.Event) error {
	patch, err := decodePatch(ev.Data)
	if err != nil {
		c.metrics.ProtocolError(metrics.KindMalformed)
		return fmt.Errorf("setState for component %d: %w", ev.Reference, err)
	}
	c.components.Dispatch(ev.Reference, patch)

	// A query rejected for authorization reaches only its component as a
	// patch, so subscribers would otherwise never hear about it.
	if reply := ev.Reply(); ev.ConnectionID != 0 && wire.IsAuthFailure(reply.Status) {
		c.broadcastUnauthorized(ev.ConnectionID, reply)
	}
	return nil
}

func decodePatch(data json.RawMessage) (component.State, error) {
	if len(data) == 0 {
		return component.State{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var patch component.State
	if err := dec.Decode(&patch); err != nil {
		return nil, fmt.Errorf("decode state patch: %w", err)
	}
	return patch, nil
}

func (c *Client) handleConnStatus(connID int, reply wire.Reply) error {
	if c.conns.IsClosed(connID) {
		slog.Debug("status for closed connection", "conn", connID, "status", reply.Status)
		return nil
	}

	phase, err := c.conns.ApplyStatus(connID, reply.Status)
	if err != nil {
		if errors.Is(err, connstate.ErrInvalidStatus) {
			c.metrics.ProtocolError(metrics.KindInvalidStatus)
			return nil
		}
		return err
	}

	c.metrics.Transition(string(phase))
	slog.Debug("connection status",
		"conn", connID,
		"status", reply.Status,
		"phase", phase,
	)
	return nil
}

// handleLogin records the identity of a successful login. An unauthorized
// connection becomes ready again.
func (c *Client) handleLogin(connID int, reply wire.Reply) error {
	if !wire.IsSuccess(reply.Status) {
		return nil
	}
	if c.conns.IsClosed(connID) {
		slog.Debug("login for closed connection", "conn", connID)
		return nil
	}

	var identity connstate.Identity
	if len(reply.Body) > 0 {
		if err := reply.DecodeBody(&identity); err != nil {
			c.metrics.ProtocolError(metrics.KindMalformed)
			return fmt.Errorf("login reply for connection %d: %w", connID, err)
		}
	}

	if err := c.conns.SetIdentity(connID, identity); err != nil {
		return err
	}
	if c.conns.Phase(connID) == connstate.PhaseUnauthorized {
		if err := c.conns.MarkReady(connID); err != nil {
			return err
		}
		c.metrics.Transition(string(connstate.PhaseReady))
	}

	slog.Info("login succeeded", "conn", connID, "anonymous", identity.Anonymous)
	return nil
}

// broadcastUnauthorized invokes every unauthorized subscriber of connID.
func (c *Client) broadcastUnauthorized(connID int, reply wire.Reply) {
	subs := c.conns.Subscribers(connID)
	slog.Debug("unauthorized broadcast",
		"conn", connID,
		"status", reply.Status,
		"subscribers", len(subs),
	)
	for _, fn := range subs {
		fn(reply)
	}
}
