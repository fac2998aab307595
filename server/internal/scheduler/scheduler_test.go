package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualClock_Advance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(base)
	c.Advance(16 * time.Minute)
	if got := c.Now(); !got.Equal(base.Add(16 * time.Minute)) {
		t.Errorf("Now: got %v", got)
	}
	c.Set(base)
	if !c.Now().Equal(base) {
		t.Error("Set did not move the clock")
	}
}

func TestManual_FireRunsRegisteredJob(t *testing.T) {
	m := NewManual()
	var n int
	if err := m.Every(time.Minute, "tick", func() { n++ }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if m.Fire("tick") {
		t.Error("Fire before Start should not run the job")
	}
	m.Start()
	if !m.Fire("tick") || n != 1 {
		t.Errorf("Fire: ran=%d, want 1", n)
	}
	if m.Fire("missing") {
		t.Error("Fire on unknown job should report false")
	}
	m.Stop()
	if m.Started() {
		t.Error("Started after Stop")
	}
}

func TestEvery_RejectsNonPositiveInterval(t *testing.T) {
	if err := NewManual().Every(0, "x", func() {}); err == nil {
		t.Error("Manual: expected error for zero interval")
	}
	if err := NewCron(nil).Every(-time.Second, "x", func() {}); err == nil {
		t.Error("Cron: expected error for negative interval")
	}
}

func TestCron_RunsJob(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real one-second tick")
	}
	c := NewCron(nil)
	var runs atomic.Int32
	if err := c.Every(time.Second, "tick", func() { runs.Add(1) }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("cron job never ran")
	}
}
