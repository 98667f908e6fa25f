package query

import (
	"encoding/json"
	"maps"
	"time"
)

// Options travel with every registerQuery request.
type Options struct {
	// Vars holds variable values. Explicit entries are never overwritten by
	// resolution.
	Vars map[string]any

	// ForceTime pins the query to a point in time. Nil means live.
	ForceTime *time.Time

	// Force asks the worker to bypass any memoized result.
	Force bool

	// Extra carries any further worker options verbatim.
	Extra map[string]any
}

// Clone returns a deep copy of the top-level maps.
func (o Options) Clone() Options {
	c := Options{
		Vars:  maps.Clone(o.Vars),
		Force: o.Force,
		Extra: maps.Clone(o.Extra),
	}
	if c.Vars == nil {
		c.Vars = make(map[string]any)
	}
	if o.ForceTime != nil {
		t := *o.ForceTime
		c.ForceTime = &t
	}
	return c
}

// MarshalJSON encodes the options as the worker expects them: vars is
// always an object, forceTime is RFC 3339 with milliseconds, force is only
// present when set.
func (o Options) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Extra)+3)
	for k, v := range o.Extra {
		out[k] = v
	}
	vars := o.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	out["vars"] = vars
	if o.ForceTime != nil {
		out["forceTime"] = o.ForceTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if o.Force {
		out["force"] = true
	}
	return json.Marshal(out)
}
