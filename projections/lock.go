package projections

import (
	"fmt"
	"time"

	"github.com/ripkitten-co/prism/clock"
)

// LockLayout is the format of lock tokens. It is fixed width so tokens order
// lexically the same way as the instants they encode.
const LockLayout = "2006-01-02T15:04:05.000000"

// Lock computes the locked_until token of a persistent projection. A token is
// the instant the lock expires unless refreshed.
type Lock struct {
	clock     clock.Clock
	timeout   time.Duration
	threshold time.Duration

	acquiredAt time.Time
	token      string
}

// NewLock creates a lock holding for timeout after every acquisition. With a
// zero threshold the lock is refreshed on every heartbeat; otherwise it is
// refreshed once timeout+threshold has passed since the last acquisition.
func NewLock(clk clock.Clock, timeout, threshold time.Duration) *Lock {
	if clk == nil {
		clk = clock.System()
	}
	return &Lock{clock: clk, timeout: timeout, threshold: threshold}
}

// Acquire starts a new lock period from now and returns its token.
func (l *Lock) Acquire() string {
	return l.Refresh(l.clock.Now())
}

func (l *Lock) Current() (string, error) {
	if l.token == "" {
		return "", fmt.Errorf("projections: lock current: %w", ErrLockNotAcquired)
	}
	return l.token, nil
}

func (l *Lock) ShouldRefresh(now time.Time) bool {
	if l.token == "" || l.threshold == 0 {
		return true
	}
	return now.After(l.acquiredAt.Add(l.timeout + l.threshold))
}

// Refresh restarts the lock period at now and returns the new token.
func (l *Lock) Refresh(now time.Time) string {
	l.acquiredAt = now
	l.token = FormatLockToken(now.Add(l.timeout))
	return l.token
}

// Increment refreshes the lock alongside a checkpoint write.
func (l *Lock) Increment() string {
	return l.Refresh(l.clock.Now())
}

// FormatLockToken formats t as a lock token in UTC.
func FormatLockToken(t time.Time) string {
	return t.UTC().Format(LockLayout)
}
