package projections

import (
	"testing"
	"time"
)

func TestSprint_ContinueAndStop(t *testing.T) {
	var s Sprint
	if s.InProgress() {
		t.Fatal("new sprint should not be in progress")
	}
	s.Continue()
	if !s.InProgress() {
		t.Fatal("expected in progress after Continue")
	}
	s.RunInBackground(true)
	s.Stop()
	if s.InProgress() {
		t.Fatal("expected stopped")
	}
	if !s.InBackground() {
		t.Fatal("Stop should not clear the background flag")
	}
}

func TestEventCounter_BlockBoundary(t *testing.T) {
	c := NewEventCounter(5)
	if !c.IsReset() {
		t.Fatal("new counter should be reset")
	}

	for i := 1; i <= 4; i++ {
		c.Increment()
		if c.IsReached() {
			t.Fatalf("reached after %d events, want 5", i)
		}
	}
	c.Increment()
	if !c.IsReached() {
		t.Fatal("expected limit reached after 5 events")
	}
	if c.Current() != 5 {
		t.Errorf("current: got %d, want 5", c.Current())
	}

	c.Reset()
	if !c.IsReset() || c.IsReached() {
		t.Fatal("expected reset counter")
	}
}

func TestEventCounter_MinimumLimit(t *testing.T) {
	c := NewEventCounter(0)
	if c.Limit() != 1 {
		t.Fatalf("limit: got %d, want 1", c.Limit())
	}
	c.Increment()
	if !c.IsReached() {
		t.Fatal("expected limit reached after one event")
	}
}

func TestLoop_Cycles(t *testing.T) {
	var l Loop
	if l.HasStarted() || !l.IsFirstLoop() {
		t.Fatal("new loop should be unstarted and first")
	}

	l.Start()
	if !l.HasStarted() || l.Cycle() != 1 || !l.IsFirstLoop() {
		t.Fatalf("after start: cycle=%d started=%v", l.Cycle(), l.HasStarted())
	}
	l.Start()
	if l.Cycle() != 1 {
		t.Fatalf("second Start moved the cycle to %d", l.Cycle())
	}

	l.Next()
	if l.Cycle() != 2 || l.IsFirstLoop() {
		t.Fatalf("after next: cycle=%d first=%v", l.Cycle(), l.IsFirstLoop())
	}

	l.Reset()
	if l.HasStarted() {
		t.Fatal("expected loop reset")
	}
}

func TestTimer_Elapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := &Timer{duration: time.Minute}

	if tm.IsStarted() {
		t.Fatal("timer should not be started")
	}
	tm.Start(start)
	if tm.IsElapsed(start.Add(59 * time.Second)) {
		t.Fatal("elapsed before its duration")
	}
	if !tm.IsElapsed(start.Add(time.Minute)) {
		t.Fatal("expected elapsed at its duration")
	}

	tm.Reset()
	if tm.IsStarted() {
		t.Fatal("expected timer reset")
	}
}

func TestTimer_ZeroDurationNeverElapses(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := &Timer{}
	tm.Start(start)
	if tm.IsElapsed(start.Add(24 * time.Hour)) {
		t.Fatal("unbounded timer elapsed")
	}
}
