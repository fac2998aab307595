// Package shipper forwards alert signals from the agent to alertd over the
// SignalService gRPC API.
//
// Shipper implements rules.Firer: Fire and Resolve place an event in an
// in-memory queue (default capacity 1000) and return at once. When the
// queue is full the oldest event is evicted.
//
// Shipper.Run drains the queue in order, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter). An event that fails
// transiently is retried first after reconnect. Permanent gRPC errors
// (Unauthenticated, PermissionDenied, InvalidArgument) discard the event.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or plaintext for local development.
package shipper
