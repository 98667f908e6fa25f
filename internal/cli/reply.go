package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/fqlsync/internal/wire"
)

// ReplyOutput is the printable form of a worker reply.
type ReplyOutput struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Body    any    `json:"body,omitempty"`
}

func newReplyOutput(r wire.Reply) ReplyOutput {
	out := ReplyOutput{Status: r.Status, Message: r.Message}
	if len(r.Body) > 0 {
		out.Body = decodeJSON(r.Body)
	}
	return out
}

// String renders the reply for text output.
func (r ReplyOutput) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "status %d", r.Status)
	if r.Message != "" {
		fmt.Fprintf(&buf, ": %s", r.Message)
	}
	if r.Body != nil {
		buf.WriteByte('\n')
		buf.WriteString(indentJSON(r.Body))
	}
	return buf.String()
}

// replyChannel returns a callback that forwards the single reply it
// receives into the returned channel.
func replyChannel() (func(wire.Reply), <-chan wire.Reply) {
	ch := make(chan wire.Reply, 1)
	return func(r wire.Reply) {
		select {
		case ch <- r:
		default:
		}
	}, ch
}

// awaitReply waits for a reply or for ctx to end.
func awaitReply(ctx context.Context, replies <-chan wire.Reply, what string) (wire.Reply, error) {
	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		return wire.Reply{}, WrapExitError(ExitCommandError, fmt.Sprintf("no reply to %s", what), ctx.Err())
	}
}

// parseJSONFlag decodes a JSON flag value with numbers kept exact.
func parseJSONFlag(name, value string) (any, error) {
	if value == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(value)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s JSON: %v", name, err))
	}
	return v, nil
}

// parseObjectFlag is parseJSONFlag for flags that must be objects.
func parseObjectFlag(name, value string) (map[string]any, error) {
	v, err := parseJSONFlag(name, value)
	if err != nil || v == nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object", name))
	}
	return obj, nil
}

func decodeJSON(data []byte) any {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(data)
	}
	return v
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
