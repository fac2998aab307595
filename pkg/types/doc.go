// Package types defines the shared vocabulary of the alert engine: alerts
// and the signals that raise them, notification channels, and escalation
// policies. These are the canonical in-memory representations used by the
// store, the router and the REST/gRPC surfaces; YAML tags let the config
// file declare channels and policies directly.
package types
