// Package harness runs scripted conversations between a client and an
// in-process worker.
//
// A scenario connects named connection profiles, performs client
// operations step by step and then asserts on the channel trace and on the
// final connection and component state. The worker answers each request
// action with the responses the scenario scripts for it.
//
// # Scenario Format
//
//	name: login_then_query
//	description: "A logged-in component receives its result"
//	connections:
//	  - name: chat
//	    instance: acme/chat
//	worker:
//	  responses:
//	    - action: connect
//	      event: connStatus
//	      status: 200
//	    - action: registerQuery
//	      event: setState
//	      data: { status: loaded, result: { messages: [] } }
//	steps:
//	  - connect: chat
//	  - init: true
//	  - bind: { conn: chat, as: inbox, query: [{ messages: [id] }] }
//	assertions:
//	  - type: request_order
//	    actions: [connect, registerQuery]
//	  - type: component_state
//	    component: inbox
//	    expect: { status: loaded }
//
// # Assertion Types
//
//   - request_contains: a request with the action (and conn, params) was sent
//   - request_order: actions were first sent in the given order
//   - request_count: an action was sent exactly N times
//   - connection_state: phase, ready, closed, authenticated, user, token
//   - component_state: lifecycle, status, loading, result, error, warning, renders
//   - reply: a labelled callback ran and its last reply matches
//   - broadcast_count: a labelled unauthorized subscriber ran N times
//
// # Determinism
//
// Steps run on one goroutine and the client inbox is drained after every
// step. References, component ids and connection ids come from fresh
// sequences, so the same scenario always produces the same trace.
package harness
