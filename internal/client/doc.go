// Package client implements the consumer side of the feed: an explicit
// connection state machine with exponential reconnect backoff, an SSE
// transport, and a runner that drives both.
//
// All state transitions flow through a single event-intake function
// (Machine.Apply); the runner owns the transport and every timer, so there
// is never parallel mutation of connection state.
package client
