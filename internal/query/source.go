package query

// Props are the inputs a component renders with.
type Props map[string]any

// Context is what a query function may read besides props.
type Context struct {
	ConnectionID int
	Instance     string
	User         any
}

// Func computes a query from props and context. It may return the zero
// Query while its inputs are not ready.
type Func func(props Props, ctx Context) Query

// Source is either a static query or a function of props.
type Source struct {
	static Query
	fn     Func
}

// Static returns a source that always yields q.
func Static(q Query) Source {
	return Source{static: q}
}

// Dynamic returns a source computed from props on mount and on every prop
// change.
func Dynamic(fn Func) Source {
	return Source{fn: fn}
}

// IsFunc reports whether the source is a function of props.
func (s Source) IsFunc() bool {
	return s.fn != nil
}

// Eval returns the query for the given props and context.
func (s Source) Eval(props Props, ctx Context) Query {
	if s.fn != nil {
		return s.fn(props, ctx)
	}
	return s.static
}
