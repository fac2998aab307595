package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs periodically.
type Scheduler interface {
	Every(interval time.Duration, name string, job func()) error
	Start()
	Stop()
}

// Cron is a Scheduler backed by robfig/cron.
type Cron struct {
	c *cron.Cron
}

// NewCron returns a Cron that logs through logger (slog.Default when nil).
func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	l := cronLogger{logger: logger}
	return &Cron{
		c: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Every schedules job at a fixed interval. Intervals are rounded down to
// whole seconds with a minimum of one second.
func (s *Cron) Every(interval time.Duration, name string, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", name)
	}
	s.c.Schedule(cron.Every(interval), cron.FuncJob(job))
	slog.Debug("scheduler: job registered", "job", name, "interval", interval)
	return nil
}

func (s *Cron) Start() { s.c.Start() }

// Stop halts scheduling and waits for running jobs to finish.
func (s *Cron) Stop() {
	<-s.c.Stop().Done()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

// Manual is a Scheduler whose jobs run only when fired.
type Manual struct {
	mu      sync.Mutex
	jobs    map[string]func()
	started bool
}

// NewManual returns an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{jobs: make(map[string]func())}
}

func (m *Manual) Every(interval time.Duration, name string, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", name)
	}
	m.mu.Lock()
	m.jobs[name] = job
	m.mu.Unlock()
	return nil
}

func (m *Manual) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
}

func (m *Manual) Stop() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}

// Started reports whether Start was called more recently than Stop.
func (m *Manual) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Fire runs the named job synchronously. It reports false when no such job
// is registered or the scheduler is stopped.
func (m *Manual) Fire(name string) bool {
	m.mu.Lock()
	job, ok := m.jobs[name]
	started := m.started
	m.mu.Unlock()
	if !ok || !started {
		return false
	}
	job()
	return true
}
