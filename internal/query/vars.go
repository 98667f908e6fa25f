package query

// VarSource says where a resolved variable's value comes from.
type VarSource int

const (
	// FromProp fills the variable from the component prop of the same name.
	FromProp VarSource = iota
	// FromIdentity fills the variable from the connection's user.
	FromIdentity
)

// String returns a short name for logs.
func (s VarSource) String() string {
	if s == FromIdentity {
		return "identity"
	}
	return "prop"
}

// SourceOf returns the source of a variable name.
func SourceOf(name string) VarSource {
	if name == IdentityVar {
		return FromIdentity
	}
	return FromProp
}

// Var is a variable the binding must fill itself. Its source is decided
// once when the variable is resolved.
type Var struct {
	Name   string
	Source VarSource
}

// Missing returns the declared variables of q that vars does not supply.
// A variable counts as supplied only when its value is non-nil.
func Missing(q Query, vars map[string]any) []Var {
	declared := q.Vars()
	missing := make([]Var, 0, len(declared))
	for _, name := range declared {
		if v, ok := vars[name]; ok && v != nil {
			continue
		}
		missing = append(missing, Var{Name: name, Source: SourceOf(name)})
	}
	return missing
}

// Names returns the names of vs in order.
func Names(vs []Var) []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// Fill writes a value for every variable in vs into vars: the user for
// identity variables and the matching prop otherwise. Absent props fill nil.
func Fill(vars map[string]any, vs []Var, props Props, user any) {
	for _, v := range vs {
		if v.Source == FromIdentity {
			vars[v.Name] = user
		} else {
			vars[v.Name] = props[v.Name]
		}
	}
}
