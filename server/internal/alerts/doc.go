// Package alerts implements the alert lifecycle: deduplicating signals by
// fingerprint, applying silences, walking each alert up its escalation
// ladder and handing notifications to the router. All state is in memory
// and guarded by the Manager's single lock.
package alerts
