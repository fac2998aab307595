// Package senders tracks which gRPC clients have delivered signals
// recently. Entries are keyed by peer host and evicted once they have
// been quiet for longer than the configured TTL.
package senders
