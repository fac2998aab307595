// Package config loads the server configuration from config.yaml.
//
// Sections:
//   - server      listener ports, gRPC API key auth, WebSocket push interval
//   - alerting    engine intervals, retention, channels, escalation policies,
//     notification templates and the template environment
//   - transports  process-wide SMTP, Slack, webhook, Teams and SMS settings
//   - rules       Prometheus scrape targets and threshold rules
//
// Secrets are never written in the file: fields ending in _env name the
// environment variable that holds them.
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads on change and keeps the previous config
// when a reload is invalid.
package config
