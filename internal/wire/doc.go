// Package wire defines the messages exchanged between the client and the
// worker, and the canonical JSON encoding used when those messages are
// compared or recorded.
//
// This package contains type definitions and codecs only. Every other
// internal package may import wire; wire imports nothing internal.
//
// Message shapes:
//
//	outbound: {"conn": 3, "action": "registerQuery", "ref": 17, "params": [...]}
//	inbound:  {"event": "setState", "conn": 3, "ref": 17, "data": {...}}
//
// Connection id 0 on a request means "not connection specific" (the initial
// connect). Reference 0 means "no reply expected".
package wire
