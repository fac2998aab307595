// Package labels implements the two leaf primitives of the alert engine:
// the fingerprint of an alert's identifying label set, and label matchers
// used by silences, channel selectors and escalation policy selectors.
//
// Fingerprint(labels) hashes the sorted label pairs with FNV-64a (the same
// scheme Prometheus uses for series identity) and renders it as 16 hex
// digits. Insertion order of the map never changes the result.
//
// A Matcher compares one label either by exact value or by regular
// expression. A missing label never matches, and a malformed expression
// never matches, so a bad matcher fails closed.
package labels
