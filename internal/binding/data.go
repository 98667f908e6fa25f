package binding

import (
	"strconv"

	"github.com/roach88/fqlsync/internal/callback"
)

// Status values pushed by the worker.
const (
	StatusPending = "pending"
	StatusLoaded  = "loaded"
	StatusError   = "error"
)

// Data is the render-time view of a binding.
type Data struct {
	ID      int64
	Result  any
	Error   any
	Warning string
	Status  string
	Loading bool

	forceUpdate func()
	invoke      func(action string, params any, cb callback.Func)
}

// ForceUpdate re-registers the query, bypassing worker-side memoization.
func (d Data) ForceUpdate() {
	if d.forceUpdate != nil {
		d.forceUpdate()
	}
}

// Invoke calls a remote action on the binding's connection.
func (d Data) Invoke(action string, params any, cb callback.Func) {
	if d.invoke != nil {
		d.invoke(action, params, cb)
	}
}

// Get walks path through Result. path is a single key or a slice of keys;
// string keys index maps, integer or numeric string keys index slices.
//
// Returns the reached value when the whole path was consumed and the value
// is non-nil. Otherwise returns def[0] when supplied, else the partial value
// where the walk stopped.
func (d Data) Get(path any, def ...any) any {
	keys := pathKeys(path)

	obj := d.Result
	idx := 0
	for obj != nil && idx < len(keys) {
		obj = lookup(obj, keys[idx])
		idx++
	}

	if idx == len(keys) && obj != nil {
		return obj
	}
	if len(def) > 0 {
		return def[0]
	}
	return obj
}

func pathKeys(path any) []any {
	switch p := path.(type) {
	case []any:
		return p
	case []string:
		keys := make([]any, len(p))
		for i, k := range p {
			keys[i] = k
		}
		return keys
	default:
		return []any{p}
	}
}

func lookup(obj any, key any) any {
	switch o := obj.(type) {
	case map[string]any:
		return o[keyString(key)]
	case []any:
		i, ok := keyIndex(key)
		if !ok || i < 0 || i >= len(o) {
			return nil
		}
		return o[i]
	default:
		return nil
	}
}

func keyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	default:
		return ""
	}
}

func keyIndex(key any) (int, bool) {
	switch k := key.(type) {
	case int:
		return k, true
	case int64:
		return int(k), true
	case string:
		i, err := strconv.Atoi(k)
		return i, err == nil
	default:
		return 0, false
	}
}
