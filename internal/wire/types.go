package wire

import (
	"encoding/json"
	"fmt"
)

// Action names an outbound request kind.
type Action string

const (
	ActionConnect         Action = "connect"
	ActionRegisterQuery   Action = "registerQuery"
	ActionUnregisterQuery Action = "unregisterQuery"
	ActionLogin           Action = "login"
	ActionLogout          Action = "logout"
	ActionReset           Action = "reset"
	ActionClose           Action = "close"
	ActionRemoteInvoke    Action = "remoteInvoke"
)

// ValidActions lists every action the worker understands.
var ValidActions = map[Action]bool{
	ActionConnect:         true,
	ActionRegisterQuery:   true,
	ActionUnregisterQuery: true,
	ActionLogin:           true,
	ActionLogout:          true,
	ActionReset:           true,
	ActionClose:           true,
	ActionRemoteInvoke:    true,
}

// EventName names an inbound event kind.
type EventName string

const (
	EventConnInit     EventName = "connInit"
	EventConnStatus   EventName = "connStatus"
	EventConnClosed   EventName = "connClosed"
	EventConnLogout   EventName = "connLogout"
	EventConnReset    EventName = "connReset"
	EventLogin        EventName = "login"
	EventSetState     EventName = "setState"
	EventRemoteInvoke EventName = "remoteInvoke"
)

// Request is a single outbound message to the worker.
type Request struct {
	ConnectionID int    `json:"conn"`
	Action       Action `json:"action"`
	Reference    int64  `json:"ref,omitempty"`
	Parameters   []any  `json:"params"`
}

// MarshalJSON encodes a nil parameter list as [] rather than null.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	p := plain(r)
	if p.Parameters == nil {
		p.Parameters = []any{}
	}
	return json.Marshal(p)
}

// Canonical returns the canonical JSON encoding of the request.
// Used for trace recording and golden comparison.
func (r Request) Canonical() ([]byte, error) {
	data, err := MarshalCanonical(r)
	if err != nil {
		return nil, fmt.Errorf("canonical request %s: %w", r.Action, err)
	}
	return data, nil
}

// Event is a single inbound message from the worker.
type Event struct {
	Name         EventName       `json:"event"`
	ConnectionID int             `json:"conn,omitempty"`
	Reference    int64           `json:"ref,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Reply decodes the event payload as a status reply.
func (e Event) Reply() Reply {
	return ParseReply(e.Data)
}

// DecodeEvent parses a raw inbound frame.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("decode event: missing event name")
	}
	return ev, nil
}

// Reply is the conventional payload of a correlated response:
// a status code, an optional message and an optional body.
//
// Payloads that do not follow the convention still round-trip through Raw.
type Reply struct {
	Status  int             `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ParseReply reads status, message and body out of a payload. It never
// fails: fields that are missing or of the wrong type are left zero.
func ParseReply(data json.RawMessage) Reply {
	r := Reply{Raw: data}
	if len(data) == 0 {
		return r
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return r
	}

	if raw, ok := fields["status"]; ok {
		var code json.Number
		if err := json.Unmarshal(raw, &code); err == nil {
			if n, err := code.Int64(); err == nil {
				r.Status = int(n)
			}
		}
	}
	if raw, ok := fields["message"]; ok {
		_ = json.Unmarshal(raw, &r.Message)
	}
	if raw, ok := fields["body"]; ok {
		r.Body = raw
	}
	return r
}

// DecodeBody unmarshals the reply body into v.
func (r Reply) DecodeBody(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("reply has no body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode reply body: %w", err)
	}
	return nil
}

// Status codes with protocol meaning.
const (
	StatusOK           = 200
	StatusBadRequest   = 400
	StatusUnauthorized = 401
	StatusForbidden    = 403
	StatusTimeout      = 408
)

// IsSuccess reports whether code is in the success class (2xx).
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// IsAuthFailure reports whether code is in the authorization-failure class.
func IsAuthFailure(code int) bool {
	return code == StatusUnauthorized || code == StatusForbidden
}
