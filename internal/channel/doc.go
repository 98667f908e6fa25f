// Package channel owns the single message channel to the worker.
//
// The Adapter opens its transport lazily, at most once, and forwards
// outbound requests to it. Inbound events and transport errors are handed to
// the Handlers given at construction; the adapter itself never interprets
// them.
//
// Two transports are provided:
//
//   - WebSocketDialer: an out-of-process worker reached over a websocket,
//     one JSON text frame per message.
//   - PipeDialer: an in-process Worker, used by tests, the scenario harness
//     and embedders that run the worker in the same process.
package channel
