package projections

import "time"

// HaltCondition stops a run once it reports true. Conditions are checked
// after every handled event, on every detected gap and at the end of every
// cycle; cycle-bound conditions only at the end of a cycle.
type HaltCondition struct {
	name       string
	cycleBound bool
	check      func(sub *Subscription) bool
}

func (h HaltCondition) String() string { return h.name }

// HaltOnGapDetected stops the run as soon as a gap is detected, before any
// retry.
func HaltOnGapDetected() HaltCondition {
	return HaltCondition{name: "gap detected", check: func(sub *Subscription) bool {
		return sub.streams.HasGap()
	}}
}

// HaltOnEventsProcessed stops the run after n events.
func HaltOnEventsProcessed(n int) HaltCondition {
	return HaltCondition{name: "events processed", check: func(sub *Subscription) bool {
		return sub.processed >= n
	}}
}

// HaltOnTimeExpired stops the run once the clock passes t.
func HaltOnTimeExpired(t time.Time) HaltCondition {
	return HaltCondition{name: "time expired", check: func(sub *Subscription) bool {
		return !sub.clock.Now().Before(t)
	}}
}

// HaltOnCycles stops the run after n completed cycles.
func HaltOnCycles(n int) HaltCondition {
	return HaltCondition{name: "cycles", cycleBound: true, check: func(sub *Subscription) bool {
		return sub.loop.Cycle() >= n
	}}
}
