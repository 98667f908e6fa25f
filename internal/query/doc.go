// Package query models the declarative queries that components bind to.
//
// A query is JSON-shaped and opaque to this package except for three
// things: its graph (the top-level stream entries that give the default
// result its keys), its declared variable names, and whether it is valid
// enough to register with the worker.
//
// Two query shapes are accepted:
//
//	[["person", {"as": "p"}], ["post", {}]]
//	{"graph": [["person", {"as": "p"}]], "vars": ["userId"]}
//
// Variables a component does not pass explicitly are resolved at bind time
// from either the connection identity (IdentityVar) or the component's props.
package query
