// Package testutil provides test doubles shared across packages.
package testutil

import (
	"encoding/json"
	"sync"

	"github.com/roach88/fqlsync/internal/wire"
)

// Responder produces the events a scripted worker emits for one request.
type Responder func(req wire.Request) []wire.Event

// ScriptedWorker is an in-process worker that records every request and
// answers with scripted events. It implements channel.Worker.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedWorker struct {
	mu         sync.Mutex
	emit       func(wire.Event)
	requests   []wire.Request
	responders map[wire.Action]Responder
	autoInit   bool
}

// NewScriptedWorker creates a worker with no responders. With autoInit it
// emits connInit as soon as the pipe opens.
func NewScriptedWorker(autoInit bool) *ScriptedWorker {
	return &ScriptedWorker{
		responders: make(map[wire.Action]Responder),
		autoInit:   autoInit,
	}
}

// Start implements channel.Worker.
func (w *ScriptedWorker) Start(emit func(wire.Event)) {
	w.mu.Lock()
	w.emit = emit
	autoInit := w.autoInit
	w.mu.Unlock()

	if autoInit {
		emit(wire.Event{Name: wire.EventConnInit})
	}
}

// Handle implements channel.Worker.
func (w *ScriptedWorker) Handle(req wire.Request) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	responder := w.responders[req.Action]
	w.mu.Unlock()

	if responder == nil {
		return
	}
	for _, ev := range responder(req) {
		w.Emit(ev)
	}
}

// On installs the responder for action, replacing any previous one.
func (w *ScriptedWorker) On(action wire.Action, r Responder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responders[action] = r
}

// Emit pushes ev to the client. Dropped if the pipe is not open.
func (w *ScriptedWorker) Emit(ev wire.Event) {
	w.mu.Lock()
	emit := w.emit
	w.mu.Unlock()

	if emit != nil {
		emit(ev)
	}
}

// Init emits connInit.
func (w *ScriptedWorker) Init() {
	w.Emit(wire.Event{Name: wire.EventConnInit})
}

// Requests returns a copy of every request received so far.
func (w *ScriptedWorker) Requests() []wire.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wire.Request(nil), w.requests...)
}

// Actions returns the action of every request received so far.
func (w *ScriptedWorker) Actions() []wire.Action {
	reqs := w.Requests()
	actions := make([]wire.Action, len(reqs))
	for i, r := range reqs {
		actions[i] = r.Action
	}
	return actions
}

// RequestsFor returns the requests with the given action.
func (w *ScriptedWorker) RequestsFor(action wire.Action) []wire.Request {
	var out []wire.Request
	for _, r := range w.Requests() {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// Reset forgets recorded requests. Responders are kept.
func (w *ScriptedWorker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = nil
}

// ReplyTo builds the conventional reply event for req.
func ReplyTo(req wire.Request, name wire.EventName, status int, body any) wire.Event {
	return wire.Event{
		Name:         name,
		ConnectionID: req.ConnectionID,
		Reference:    req.Reference,
		Data:         StatusData(status, body),
	}
}

// StatusData encodes {"status": status, "body": body}. A nil body is omitted.
func StatusData(status int, body any) json.RawMessage {
	payload := map[string]any{"status": status}
	if body != nil {
		payload["body"] = body
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Respond returns a responder that answers every request with a single
// reply event carrying status and body.
func Respond(name wire.EventName, status int, body any) Responder {
	return func(req wire.Request) []wire.Event {
		return []wire.Event{ReplyTo(req, name, status, body)}
	}
}
