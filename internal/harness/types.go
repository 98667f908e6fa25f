package harness

// Trace entry types.
const (
	KindRequest = "request"
	KindEvent   = "event"
)

// TraceEvent is one message crossing the worker channel, in either
// direction. Payloads are plain JSON trees.
type TraceEvent struct {
	Type   string `json:"type"` // "request" or "event"
	Action string `json:"action,omitempty"`
	Event  string `json:"event,omitempty"`
	Conn   int    `json:"conn,omitempty"`
	Ref    int64  `json:"ref,omitempty"`
	Params any    `json:"params,omitempty"`
	Data   any    `json:"data,omitempty"`
	Seq    int64  `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held and no channel error occurred.
	Pass bool `json:"pass"`

	// Trace contains every request and event in channel order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures and channel errors.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requests returns the request entries of the trace.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == KindRequest {
			out = append(out, ev)
		}
	}
	return out
}
