// Package notify implements the notification router and the transports it
// hands rendered messages to.
//
// Router.Plan decides which channels receive an alert: each channel must be
// registered, enabled, accept the alert's severity, have all of its label
// selectors match, and (when time restrictions are set) be inside an allowed
// window in its own timezone. Content is rendered from the template
// registered for (channel type, severity), or from a generic fallback.
// Resolution notices use the template registered under severity "resolved".
//
// Router.Deliver sends each planned delivery through the transport for the
// channel type. Failures are logged and never stop the remaining channels.
//
// Transports are provided for Slack, Microsoft Teams, PagerDuty Events v2,
// generic JSON webhooks and SMTP email.
package notify
