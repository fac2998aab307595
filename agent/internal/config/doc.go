// Package config loads and watches the agent configuration file.
//
// Top-level sections:
//   - agent   server_endpoint, buffer_size, server_auth (mtls | apikey | none)
//   - rules   Prometheus scrape targets and threshold rules
//   - certs   https endpoints whose certificates are checked for expiry,
//     with warn_days and critical_days thresholds
//   - labels  extra labels attached to every signal the agent sends
//
// Load(path) applies defaults (1000 buffer, 30s rules, 1h certs, 30/7
// days), then validates. Watch(ctx, path, onChange) reloads on change.
package config
