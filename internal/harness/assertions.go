package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/fqlsync/internal/wire"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			if ev.Type == KindRequest {
				fmt.Fprintf(&buf, "  [%d] -> %s conn=%d ref=%d\n", i+1, ev.Action, ev.Conn, ev.Ref)
			} else {
				fmt.Fprintf(&buf, "  [%d] <- %s conn=%d ref=%d\n", i+1, ev.Event, ev.Conn, ev.Ref)
			}
		}
	}

	return buf.String()
}

// assertRequestContains checks that a request with the action was sent,
// optionally on a given connection and with matching parameters.
func assertRequestContains(trace []TraceEvent, a Assertion, connID int) error {
	want := normalize(a.Params)
	for _, ev := range trace {
		if ev.Type != KindRequest || ev.Action != a.Action {
			continue
		}
		if connID != 0 && ev.Conn != connID {
			continue
		}
		if a.Params != nil && !matchValue(normalize(ev.Params), want) {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertRequestContains,
		Expected: fmt.Sprintf("request %s with params %v", a.Action, a.Params),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertRequestOrder checks that actions were first sent in the given
// order. Other requests may come in between.
func assertRequestOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Type != KindRequest {
			continue
		}
		if _, seen := positions[ev.Action]; !seen {
			positions[ev.Action] = i + 1
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRequestCount checks that the action was sent exactly Count times.
func assertRequestCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == KindRequest && ev.Action == a.Action {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertState subset-matches an observed state map.
func assertState(kind, subject string, actual, expected map[string]any) error {
	got := normalize(actual).(map[string]any)
	want := normalize(expected)
	if matchValue(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s to have %s", subject, compact(want)),
		Actual:   compact(got),
	}
}

func (h *Harness) connectionState(name string) (map[string]any, error) {
	conn, ok := h.conns[name]
	if !ok {
		return nil, fmt.Errorf("connection %q was never connected", name)
	}
	rec := conn.Record()
	anonymous := rec.Identity != nil && rec.Identity.Anonymous
	return map[string]any{
		"phase":         string(rec.Phase()),
		"ready":         conn.IsReady(),
		"closed":        conn.IsClosed(),
		"authenticated": conn.IsAuthenticated(),
		"anonymous":     anonymous,
		"user":          conn.User(),
		"token":         conn.Token(),
	}, nil
}

func (h *Harness) componentState(name string) (map[string]any, error) {
	b, ok := h.bindings[name]
	if !ok {
		return nil, fmt.Errorf("component %q was never bound", name)
	}
	d := b.Data()
	return map[string]any{
		"id":        d.ID,
		"lifecycle": string(b.Lifecycle()),
		"status":    d.Status,
		"loading":   d.Loading,
		"result":    d.Result,
		"error":     d.Error,
		"warning":   d.Warning,
		"renders":   h.renders[name],
	}, nil
}

// assertReply checks the replies recorded under a label. Without Count the
// label must have fired at least once; Expect is matched against the last
// reply.
func (h *Harness) assertReply(a Assertion) error {
	replies := h.replies[a.Label]
	if a.Count > 0 && len(replies) != a.Count {
		return &AssertionError{
			Type:     AssertReply,
			Expected: fmt.Sprintf("%d replies for %s", a.Count, a.Label),
			Actual:   fmt.Sprintf("%d replies", len(replies)),
		}
	}
	if len(replies) == 0 {
		return &AssertionError{
			Type:     AssertReply,
			Expected: fmt.Sprintf("a reply for %s", a.Label),
			Actual:   "callback never ran",
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}
	return assertState(AssertReply, a.Label, replyMap(replies[len(replies)-1]), a.Expect)
}

func replyMap(r wire.Reply) map[string]any {
	m := map[string]any{
		"status":  r.Status,
		"message": r.Message,
	}
	if len(r.Body) > 0 {
		m["body"] = decodeTree(r.Body)
	}
	return m
}

// EvaluateAssertions evaluates all assertions against the harness state
// after a run. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	trace := h.worker.trace()
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertRequestContains:
			connID := 0
			if a.Conn != "" {
				conn, ok := h.conns[a.Conn]
				if !ok {
					err = fmt.Errorf("assertion[%d]: connection %q was never connected", i, a.Conn)
					break
				}
				connID = conn.ID()
			}
			err = assertRequestContains(trace, a, connID)
		case AssertRequestOrder:
			err = assertRequestOrder(trace, a)
		case AssertRequestCount:
			err = assertRequestCount(trace, a)
		case AssertConnectionState:
			var st map[string]any
			if st, err = h.connectionState(a.Conn); err == nil {
				err = assertState(a.Type, "connection "+a.Conn, st, a.Expect)
			}
		case AssertComponentState:
			var st map[string]any
			if st, err = h.componentState(a.Component); err == nil {
				err = assertState(a.Type, "component "+a.Component, st, a.Expect)
			}
		case AssertReply:
			err = h.assertReply(a)
		case AssertBroadcastCount:
			if got := h.broadcasts[a.Label]; got != a.Count {
				err = &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("%d broadcasts to %s", a.Count, a.Label),
					Actual:   fmt.Sprintf("%d broadcasts", got),
				}
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// normalize converts v to a plain JSON tree with json.Number numbers, so
// YAML-decoded expectations compare equal to wire-decoded values.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return decodeTree(data)
}

func decodeTree(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return string(data)
	}
	return out
}

// matchValue reports whether actual matches expected. Maps match as
// subsets; slices match element-wise and must have equal length.
func matchValue(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for key, ev := range exp {
			av, exists := act[key]
			if !exists && ev != nil {
				return false
			}
			if !matchValue(av, ev) {
				return false
			}
		}
		return true

	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchValue(act[i], exp[i]) {
				return false
			}
		}
		return true

	case json.Number:
		act, ok := actual.(json.Number)
		if !ok {
			return false
		}
		if act == exp {
			return true
		}
		af, aerr := act.Float64()
		ef, eerr := exp.Float64()
		return aerr == nil && eerr == nil && af == ef
	}

	return reflect.DeepEqual(actual, expected)
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
