package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IdentityVar is the reserved variable filled from the connection's user.
const IdentityVar = "currentUser"

// Query is a JSON-shaped query value. The zero Query is absent.
type Query struct {
	value   any
	present bool
}

// From wraps a Go value as a query. Values built from typed slices or
// structs are normalized to their generic JSON form, so []any and
// map[string]any are the only containers a Query holds.
func From(v any) Query {
	return Query{value: normalize(v), present: true}
}

// Parse decodes a JSON query document.
func Parse(data []byte) (Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Query{}, fmt.Errorf("parse query: %w", err)
	}
	return Query{value: v, present: true}, nil
}

// MustParse is Parse for literals in tests and examples. Panics on error.
func MustParse(s string) Query {
	q, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return q
}

// IsZero reports whether no query was supplied. A JSON null counts as
// absent.
func (q Query) IsZero() bool {
	return !q.present || q.value == nil
}

// Value returns the generic JSON value of the query.
func (q Query) Value() any {
	return q.value
}

// MarshalJSON encodes the query value.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.value)
}

// String returns the JSON text of the query.
func (q Query) String() string {
	data, err := json.Marshal(q.value)
	if err != nil {
		return fmt.Sprintf("%v", q.value)
	}
	return string(data)
}

// Graph returns the top-level graph entries, or nil if the query has none.
func (q Query) Graph() []any {
	switch v := q.value.(type) {
	case []any:
		return v
	case map[string]any:
		graph, _ := v["graph"].([]any)
		return graph
	default:
		return nil
	}
}

// Valid reports whether the query may be registered: a non-empty graph
// array, or an object whose graph field is a non-empty array.
func (q Query) Valid() bool {
	return !q.IsZero() && len(q.Graph()) > 0
}

// Vars returns the declared variable names of an object query.
// Non-string entries are skipped.
func (q Query) Vars() []string {
	obj, ok := q.value.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := obj["vars"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if name, ok := v.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// DefaultResult returns the placeholder result for q: one nil entry per
// graph entry, keyed by the entry's "as" alias or else its stream name.
// Entries that are not [name, options] pairs are skipped.
func (q Query) DefaultResult() map[string]any {
	result := make(map[string]any)
	for _, raw := range q.Graph() {
		entry, ok := raw.([]any)
		if !ok || len(entry) == 0 {
			continue
		}
		stream, ok := entry[0].(string)
		if !ok {
			continue
		}
		key := stream
		if len(entry) > 1 {
			if opts, ok := entry[1].(map[string]any); ok {
				if alias, ok := opts["as"].(string); ok && alias != "" {
					key = alias
				}
			}
		}
		result[key] = nil
	}
	return result
}

// normalize converts v to the generic JSON tree produced by a UseNumber
// decode. Values that cannot be marshaled are kept as-is and will fail
// validation.
func normalize(v any) any {
	switch v.(type) {
	case nil, []any, map[string]any:
		if !containsTyped(v) {
			return v
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

// containsTyped reports whether a generic tree holds any container that is
// not []any or map[string]any.
func containsTyped(v any) bool {
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if containsTyped(e) {
				return true
			}
		}
		return false
	case map[string]any:
		for _, e := range t {
			if containsTyped(e) {
				return true
			}
		}
		return false
	case nil, string, bool, float64, int, int64, json.Number:
		return false
	default:
		return true
	}
}
