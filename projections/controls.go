package projections

import "time"

// Sprint governs the lifetime of one Run: whether the loop keeps iterating
// and whether it runs in the background.
type Sprint struct {
	inProgress   bool
	inBackground bool
}

func (s *Sprint) Continue() { s.inProgress = true }
func (s *Sprint) Stop() { s.inProgress = false }
func (s *Sprint) InProgress() bool { return s.inProgress }
func (s *Sprint) RunInBackground(bg bool) { s.inBackground = bg }
func (s *Sprint) InBackground() bool { return s.inBackground }

// EventCounter counts events handled since the last checkpoint. It is reached
// once it holds limit events.
type EventCounter struct {
	current int
	limit   int
}

func NewEventCounter(limit int) *EventCounter {
	if limit < 1 {
		limit = 1
	}
	return &EventCounter{limit: limit}
}

func (c *EventCounter) Increment() { c.current++ }
func (c *EventCounter) Reset() { c.current = 0 }
func (c *EventCounter) IsReset() bool { return c.current == 0 }
func (c *EventCounter) IsReached() bool { return c.current >= c.limit }
func (c *EventCounter) Current() int { return c.current }
func (c *EventCounter) Limit() int { return c.limit }

// Loop counts the cycles of one Run. Cycle 0 means the loop has not started;
// the first cycle is 1.
type Loop struct {
	cycle int
}

func (l *Loop) Start() {
	if l.cycle == 0 {
		l.cycle = 1
	}
}

func (l *Loop) Next() { l.cycle++ }
func (l *Loop) Reset() { l.cycle = 0 }
func (l *Loop) Cycle() int { return l.cycle }
func (l *Loop) HasStarted() bool { return l.cycle > 0 }
func (l *Loop) IsFirstLoop() bool { return l.cycle <= 1 }

// Timer bounds the wall-clock duration of a Run. A zero duration never
// elapses.
type Timer struct {
	duration  time.Duration
	startedAt time.Time
}

func (t *Timer) Start(now time.Time) {
	if t.startedAt.IsZero() {
		t.startedAt = now
	}
}

func (t *Timer) IsStarted() bool { return !t.startedAt.IsZero() }

func (t *Timer) IsElapsed(now time.Time) bool {
	if t.duration <= 0 || t.startedAt.IsZero() {
		return false
	}
	return !now.Before(t.startedAt.Add(t.duration))
}

func (t *Timer) Reset() { t.startedAt = time.Time{} }
