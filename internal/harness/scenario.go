package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fqlsync/internal/config"
	"github.com/roach88/fqlsync/internal/wire"
)

// Scenario drives one client against a scripted in-process worker and
// asserts on the resulting message trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Connections are the profiles that connect steps refer to by name.
	Connections []config.Connection `yaml:"connections"`

	// Worker scripts the in-process worker.
	Worker WorkerScript `yaml:"worker"`

	// Steps run in order. The client drains its inbox after each one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// WorkerScript configures the scripted worker.
type WorkerScript struct {
	// AutoInit emits connInit as soon as the channel opens.
	AutoInit bool `yaml:"auto_init"`

	// Responses are emitted for every request with a matching action, in
	// the order listed.
	Responses []Response `yaml:"responses"`
}

// Response is one scripted reply event.
type Response struct {
	// Action selects the requests this response answers.
	Action string `yaml:"action"`

	// Event is the event name emitted.
	Event string `yaml:"event"`

	// Status and Body form the conventional {"status", "body"} payload.
	Status int `yaml:"status,omitempty"`
	Body   any `yaml:"body,omitempty"`

	// Data replaces the payload verbatim. Used for setState patches.
	Data any `yaml:"data,omitempty"`
}

// Step is one client operation. Exactly one field is set.
type Step struct {
	Connect     string         `yaml:"connect,omitempty"`
	Init        bool           `yaml:"init,omitempty"`
	Login       *LoginStep     `yaml:"login,omitempty"`
	Logout      *CallStep      `yaml:"logout,omitempty"`
	Reset       *CallStep      `yaml:"reset,omitempty"`
	Close       *CallStep      `yaml:"close,omitempty"`
	Invoke      *InvokeStep    `yaml:"invoke,omitempty"`
	Subscribe   *CallStep      `yaml:"subscribe_unauthorized,omitempty"`
	Bind        *BindStep      `yaml:"bind,omitempty"`
	Props       *PropsStep     `yaml:"props,omitempty"`
	ForceUpdate string         `yaml:"force_update,omitempty"`
	ForceTime   *ForceTimeStep `yaml:"force_time,omitempty"`
	Unmount     string         `yaml:"unmount,omitempty"`
	Emit        *EmitStep      `yaml:"emit,omitempty"`
}

// CallStep targets a connection. As labels the recorded replies.
type CallStep struct {
	Conn string `yaml:"conn"`
	As   string `yaml:"as,omitempty"`
}

// LoginStep logs a connection in.
type LoginStep struct {
	Conn     string `yaml:"conn"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Remember bool   `yaml:"remember,omitempty"`
	As       string `yaml:"as,omitempty"`
}

// InvokeStep calls a remote action.
type InvokeStep struct {
	Conn   string `yaml:"conn"`
	Action string `yaml:"action"`
	Params any    `yaml:"params,omitempty"`
	As     string `yaml:"as,omitempty"`
}

// BindStep mounts a component. Query is static; QueryProp instead reads
// the query from the named prop on every render.
type BindStep struct {
	Conn      string         `yaml:"conn"`
	As        string         `yaml:"as"`
	Query     any            `yaml:"query,omitempty"`
	QueryProp string         `yaml:"query_prop,omitempty"`
	Vars      map[string]any `yaml:"vars,omitempty"`
	Props     map[string]any `yaml:"props,omitempty"`
}

// PropsStep re-renders a component with new props.
type PropsStep struct {
	Component string         `yaml:"component"`
	Props     map[string]any `yaml:"props"`
}

// ForceTimeStep sets or, with an empty Time, clears a time override.
type ForceTimeStep struct {
	Conn string `yaml:"conn"`
	Time string `yaml:"time,omitempty"`
}

// EmitStep pushes an unsolicited worker event. Component resolves to the
// bound component's id as the reference.
type EmitStep struct {
	Event     string `yaml:"event"`
	Conn      string `yaml:"conn,omitempty"`
	Component string `yaml:"component,omitempty"`
	Ref       int64  `yaml:"ref,omitempty"`
	Data      any    `yaml:"data,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type selects the check; see the Assert constants.
	Type string `yaml:"type"`

	// Action is the request action (request_contains, request_count).
	Action string `yaml:"action,omitempty"`

	// Actions is the expected request order (request_order).
	Actions []string `yaml:"actions,omitempty"`

	// Conn names a connection (request_contains, connection_state).
	Conn string `yaml:"conn,omitempty"`

	// Component names a bound component (component_state).
	Component string `yaml:"component,omitempty"`

	// Label names a recorded reply or subscription (reply, broadcast_count).
	Label string `yaml:"label,omitempty"`

	// Params is matched against request parameters (request_contains).
	Params any `yaml:"params,omitempty"`

	// Expect holds expected fields. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is an exact occurrence count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRequestContains = "request_contains"
	AssertRequestOrder    = "request_order"
	AssertRequestCount    = "request_count"
	AssertConnectionState = "connection_state"
	AssertComponentState  = "component_state"
	AssertReply           = "reply"
	AssertBroadcastCount  = "broadcast_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// step refers to names the scenario defines.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	profiles := make(map[string]bool)
	for i, c := range s.Connections {
		if c.Name == "" || c.Instance == "" {
			return fmt.Errorf("connections[%d]: name and instance are required", i)
		}
		if profiles[c.Name] {
			return fmt.Errorf("connections[%d]: duplicate name %q", i, c.Name)
		}
		profiles[c.Name] = true
	}

	for i, r := range s.Worker.Responses {
		if !wire.ValidActions[wire.Action(r.Action)] {
			return fmt.Errorf("worker.responses[%d]: unknown action %q", i, r.Action)
		}
		if r.Event == "" {
			return fmt.Errorf("worker.responses[%d]: event is required", i)
		}
	}

	components := make(map[string]bool)
	for i, step := range s.Steps {
		if n := step.kinds(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, n)
		}
		if step.Connect != "" && !profiles[step.Connect] {
			return fmt.Errorf("steps[%d]: unknown connection profile %q", i, step.Connect)
		}
		if step.Bind != nil {
			if step.Bind.As == "" {
				return fmt.Errorf("steps[%d].bind: as is required", i)
			}
			if components[step.Bind.As] {
				return fmt.Errorf("steps[%d].bind: component %q already bound", i, step.Bind.As)
			}
			components[step.Bind.As] = true
		}
		for _, name := range step.componentRefs() {
			if !components[name] {
				return fmt.Errorf("steps[%d]: unknown component %q", i, name)
			}
		}
		if step.Invoke != nil && step.Invoke.Action == "" {
			return fmt.Errorf("steps[%d].invoke: action is required", i)
		}
		if step.Emit != nil && step.Emit.Event == "" {
			return fmt.Errorf("steps[%d].emit: event is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// kinds counts the operations set on the step.
func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{
		s.Connect != "",
		s.Init,
		s.Login != nil,
		s.Logout != nil,
		s.Reset != nil,
		s.Close != nil,
		s.Invoke != nil,
		s.Subscribe != nil,
		s.Bind != nil,
		s.Props != nil,
		s.ForceUpdate != "",
		s.ForceTime != nil,
		s.Unmount != "",
		s.Emit != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// componentRefs lists the component names the step expects to exist.
func (s Step) componentRefs() []string {
	var refs []string
	if s.Props != nil {
		refs = append(refs, s.Props.Component)
	}
	if s.ForceUpdate != "" {
		refs = append(refs, s.ForceUpdate)
	}
	if s.Unmount != "" {
		refs = append(refs, s.Unmount)
	}
	if s.Emit != nil && s.Emit.Component != "" {
		refs = append(refs, s.Emit.Component)
	}
	return refs
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for request_contains", index)
		}
	case AssertRequestOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for request_order", index)
		}
	case AssertRequestCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for request_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for request_count", index)
		}
	case AssertConnectionState:
		if a.Conn == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: conn and expect are required for connection_state", index)
		}
	case AssertComponentState:
		if a.Component == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: component and expect are required for component_state", index)
		}
	case AssertReply:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for reply", index)
		}
	case AssertBroadcastCount:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for broadcast_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
