package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fqlsync/internal/binding"
	"github.com/roach88/fqlsync/internal/callback"
	"github.com/roach88/fqlsync/internal/channel"
	"github.com/roach88/fqlsync/internal/client"
	"github.com/roach88/fqlsync/internal/config"
	"github.com/roach88/fqlsync/internal/credstore"
	"github.com/roach88/fqlsync/internal/query"
	"github.com/roach88/fqlsync/internal/testutil"
	"github.com/roach88/fqlsync/internal/wire"
)

// pipeURL is the worker URL recorded in connect settings. The pipe dialer
// ignores it.
const pipeURL = "pipe://harness"

// Harness executes one scenario.
//
// All steps run on the calling goroutine and the client inbox is drained
// after each one, so traces are deterministic.
type Harness struct {
	client   *client.Client
	worker   *recorder
	cfg      *config.Config
	profiles map[string]config.Connection
	logger   *slog.Logger

	conns      map[string]*client.Conn
	bindings   map[string]*binding.Binding
	renders    map[string]int
	replies    map[string][]wire.Reply
	broadcasts map[string]int

	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh client, worker and in-memory credential store.
//
// Execution flow:
// 1. Script the worker from scenario.Worker
// 2. Execute steps, draining the client inbox after each
// 3. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context for connects.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()

	h := &Harness{
		cfg:        &config.Config{WorkerURL: pipeURL},
		profiles:   make(map[string]config.Connection),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:      make(map[string]*client.Conn),
		bindings:   make(map[string]*binding.Binding),
		renders:    make(map[string]int),
		replies:    make(map[string][]wire.Reply),
		broadcasts: make(map[string]int),
		result:     result,
	}
	for _, p := range scenario.Connections {
		h.profiles[p.Name] = p
	}

	h.worker = newRecorder(testutil.NewScriptedWorker(scenario.Worker.AutoInit))
	if err := h.worker.script(scenario.Worker.Responses); err != nil {
		return nil, err
	}

	h.client = client.New(
		client.WithDialer(channel.PipeDialer{Worker: h.worker}),
		client.WithCredentialStore(credstore.NewMemory()),
		client.WithSequence(callback.NewSequence()),
		client.WithErrorHandler(func(err error) {
			result.AddError(fmt.Sprintf("channel error: %v", err))
		}),
	)
	defer h.client.Close()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		n := h.client.Drain()
		h.logger.Info("step completed", "step", i, "events", n)
	}

	result.Trace = h.worker.trace()
	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Connect != "":
		return h.connect(ctx, step.Connect)

	case step.Init:
		h.worker.Init()
		return nil

	case step.Login != nil:
		conn, err := h.conn(step.Login.Conn)
		if err != nil {
			return err
		}
		conn.Login(client.Credentials{
			Username: step.Login.Username,
			Password: step.Login.Password,
		}, h.recordReply(step.Login.As), step.Login.Remember)
		return nil

	case step.Logout != nil:
		conn, err := h.conn(step.Logout.Conn)
		if err != nil {
			return err
		}
		conn.Logout(h.recordReply(step.Logout.As))
		return nil

	case step.Reset != nil:
		conn, err := h.conn(step.Reset.Conn)
		if err != nil {
			return err
		}
		conn.Reset(h.recordReply(step.Reset.As))
		return nil

	case step.Close != nil:
		conn, err := h.conn(step.Close.Conn)
		if err != nil {
			return err
		}
		conn.Close(h.recordReply(step.Close.As))
		return nil

	case step.Invoke != nil:
		conn, err := h.conn(step.Invoke.Conn)
		if err != nil {
			return err
		}
		conn.Invoke(step.Invoke.Action, step.Invoke.Params, h.recordReply(step.Invoke.As))
		return nil

	case step.Subscribe != nil:
		conn, err := h.conn(step.Subscribe.Conn)
		if err != nil {
			return err
		}
		label := step.Subscribe.As
		if label == "" {
			label = step.Subscribe.Conn
		}
		conn.Unauthorized().Add(func(wire.Reply) {
			h.broadcasts[label]++
		})
		return nil

	case step.Bind != nil:
		return h.bind(step.Bind)

	case step.Props != nil:
		h.bindings[step.Props.Component].UpdateProps(query.Props(step.Props.Props))
		return nil

	case step.ForceUpdate != "":
		h.bindings[step.ForceUpdate].ForceUpdate()
		return nil

	case step.ForceTime != nil:
		conn, err := h.conn(step.ForceTime.Conn)
		if err != nil {
			return err
		}
		if step.ForceTime.Time == "" {
			conn.ForceTime(nil)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, step.ForceTime.Time)
		if err != nil {
			return fmt.Errorf("force_time: %w", err)
		}
		conn.ForceTime(&t)
		return nil

	case step.Unmount != "":
		h.bindings[step.Unmount].Unmount()
		return nil

	case step.Emit != nil:
		return h.emit(step.Emit)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) connect(ctx context.Context, name string) error {
	if _, ok := h.conns[name]; ok {
		return fmt.Errorf("connection %q already connected", name)
	}
	conn, err := h.client.Connect(ctx, h.cfg.Settings(h.profiles[name]))
	if err != nil {
		return fmt.Errorf("connect %q: %w", name, err)
	}
	h.conns[name] = conn
	return nil
}

func (h *Harness) conn(name string) (*client.Conn, error) {
	conn, ok := h.conns[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not connected", name)
	}
	return conn, nil
}

// recordReply returns a callback that stores replies under label, or nil
// when the step does not care about the reply.
func (h *Harness) recordReply(label string) callback.Func {
	if label == "" {
		return nil
	}
	return func(r wire.Reply) {
		h.replies[label] = append(h.replies[label], r)
	}
}

func (h *Harness) bind(step *BindStep) error {
	conn, err := h.conn(step.Conn)
	if err != nil {
		return err
	}

	src := query.Static(query.Query{})
	switch {
	case step.QueryProp != "":
		key := step.QueryProp
		src = query.Dynamic(func(props query.Props, _ query.Context) query.Query {
			v, ok := props[key]
			if !ok {
				return query.Query{}
			}
			return query.From(v)
		})
	case step.Query != nil:
		src = query.Static(query.From(step.Query))
	}

	name := step.As
	b, err := conn.Bind(src, query.Options{Vars: step.Vars}, query.Props(step.Props), func(binding.Data) {
		h.renders[name]++
	})
	if err != nil {
		return fmt.Errorf("bind %q: %w", name, err)
	}
	h.bindings[name] = b
	b.Mount()
	return nil
}

func (h *Harness) emit(step *EmitStep) error {
	ev := wire.Event{
		Name:      wire.EventName(step.Event),
		Reference: step.Ref,
	}
	if step.Conn != "" {
		conn, err := h.conn(step.Conn)
		if err != nil {
			return err
		}
		ev.ConnectionID = conn.ID()
	}
	if step.Component != "" {
		ev.Reference = h.bindings[step.Component].ID()
	}
	if step.Data != nil {
		data, err := json.Marshal(step.Data)
		if err != nil {
			return fmt.Errorf("emit %s: %w", step.Event, err)
		}
		ev.Data = data
	}
	h.worker.Emit(ev)
	return nil
}

// recorder wraps a scripted worker and records every message that crosses
// the pipe.
type recorder struct {
	*testutil.ScriptedWorker

	mu     sync.Mutex
	seq    *callback.Sequence
	events []TraceEvent
}

var _ channel.Worker = (*recorder)(nil)

func newRecorder(w *testutil.ScriptedWorker) *recorder {
	return &recorder{ScriptedWorker: w, seq: callback.NewSequence()}
}

// script installs one responder per action emitting every matching
// response in order.
func (r *recorder) script(responses []Response) error {
	byAction := make(map[wire.Action][]Response)
	var order []wire.Action
	for _, resp := range responses {
		a := wire.Action(resp.Action)
		if _, ok := byAction[a]; !ok {
			order = append(order, a)
		}
		byAction[a] = append(byAction[a], resp)
	}

	for _, action := range order {
		var events []func(wire.Request) wire.Event
		for _, resp := range byAction[action] {
			ev, err := responseEvent(resp)
			if err != nil {
				return fmt.Errorf("worker response for %s: %w", action, err)
			}
			events = append(events, ev)
		}
		r.On(action, func(req wire.Request) []wire.Event {
			out := make([]wire.Event, len(events))
			for i, ev := range events {
				out[i] = ev(req)
			}
			return out
		})
	}
	return nil
}

func responseEvent(resp Response) (func(wire.Request) wire.Event, error) {
	name := wire.EventName(resp.Event)
	if resp.Data == nil {
		return func(req wire.Request) wire.Event {
			ev := testutil.ReplyTo(req, name, resp.Status, resp.Body)
			ev.ConnectionID = targetConn(req)
			return ev
		}, nil
	}

	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, err
	}
	return func(req wire.Request) wire.Event {
		return wire.Event{
			Name:         name,
			ConnectionID: targetConn(req),
			Reference:    req.Reference,
			Data:         data,
		}
	}, nil
}

// targetConn is the connection a reply to req concerns. Connect requests
// travel on conn 0 and name the new connection in their settings.
func targetConn(req wire.Request) int {
	if req.ConnectionID != 0 || req.Action != wire.ActionConnect || len(req.Parameters) == 0 {
		return req.ConnectionID
	}
	settings, ok := req.Parameters[0].(map[string]any)
	if !ok {
		return 0
	}
	id, ok := settings["id"].(json.Number)
	if !ok {
		return 0
	}
	n, err := id.Int64()
	if err != nil {
		return 0
	}
	return int(n)
}

// Start implements channel.Worker.
func (r *recorder) Start(emit func(wire.Event)) {
	r.ScriptedWorker.Start(func(ev wire.Event) {
		r.recordEvent(ev)
		emit(ev)
	})
}

// Handle implements channel.Worker.
func (r *recorder) Handle(req wire.Request) {
	r.mu.Lock()
	r.events = append(r.events, TraceEvent{
		Type:   KindRequest,
		Action: string(req.Action),
		Conn:   req.ConnectionID,
		Ref:    req.Reference,
		Params: req.Parameters,
		Seq:    r.seq.Next(),
	})
	r.mu.Unlock()

	r.ScriptedWorker.Handle(req)
}

func (r *recorder) recordEvent(ev wire.Event) {
	var data any
	if len(ev.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(ev.Data))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			data = string(ev.Data)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{
		Type:  KindEvent,
		Event: string(ev.Name),
		Conn:  ev.ConnectionID,
		Ref:   ev.Reference,
		Data:  data,
		Seq:   r.seq.Next(),
	})
}

func (r *recorder) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.events...)
}
