// Package scheduler provides the time capabilities the alert engine is
// built on: a Clock for reading the current time, and a Scheduler for
// periodic jobs.
//
// Cron runs jobs on robfig/cron "@every" schedules and skips a run while the
// previous one is still executing. Manual runs jobs only when Fire is called,
// and ManualClock only moves when advanced, so tests drive escalation ticks
// and cleanup sweeps deterministically.
package scheduler
