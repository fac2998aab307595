// Package rules turns Prometheus metrics into alert signals.
//
// Each target is scraped once per evaluation in the text exposition
// format. A rule names a target, a condition of the form
// "<metric> <op> <threshold>" and an optional series label filter; the
// matching series are summed and compared. While the condition holds the
// rule fires a signal every evaluation (the manager deduplicates them);
// when it stops holding the rule resolves its alert.
//
// Supported operators: > >= < <= == !=
package rules
