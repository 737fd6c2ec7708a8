// Package streams tracks the last position read from every watched stream and
// decides whether an event arriving ahead of its expected position is a
// delivery race worth waiting for or a hole that will never be filled.
//
// Events are appended with a reserved position before they are durably
// visible, so a reader can observe position n+2 before n+1. The Manager
// retries such gaps on a configured backoff, optionally giving up early when
// the event is older than the detection window, and then confirms the skipped
// positions so the projection always makes progress.
package streams

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ripkitten-co/prism/clock"
	"github.com/ripkitten-co/prism/internal/codecs"
)

// Catalog resolves category and "all streams" selectors to stream names.
type Catalog interface {
	FilterCategories(ctx context.Context, categories []string) ([]string, error)
	AllStreams(ctx context.Context) ([]string, error)
}

// Config controls gap handling. An empty Retries disables waiting: gaps are
// confirmed and skipped on sight. A zero DetectionWindow disables the age
// check.
type Config struct {
	Retries         []time.Duration
	DetectionWindow time.Duration
}

// Manager holds stream positions and the state of the current gap episode.
// It is not safe for concurrent use; a projection owns one per run.
type Manager struct {
	catalog Catalog
	clock   clock.Clock
	delays  []time.Duration
	window  time.Duration

	positions map[string]int
	confirmed map[int]struct{}

	gapDetected bool
	gapStream   string
	retries     int
}

// NewManager creates a manager resolving selectors through catalog.
func NewManager(catalog Catalog, clk clock.Clock, cfg Config) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{
		catalog:   catalog,
		clock:     clk,
		delays:    slices.Clone(cfg.Retries),
		window:    cfg.DetectionWindow,
		positions: make(map[string]int),
		confirmed: make(map[int]struct{}),
	}
}

// Watch resolves sel and starts tracking every resulting stream at position
// 0. Streams already tracked keep their position, so Watch can be called on
// every cycle to pick up streams created after the projection started.
func (m *Manager) Watch(ctx context.Context, sel Selector) error {
	names, err := m.resolve(ctx, sel)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := m.positions[name]; !ok {
			m.positions[name] = 0
		}
	}
	return nil
}

func (m *Manager) resolve(ctx context.Context, sel Selector) ([]string, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var (
		names []string
		err   error
	)
	switch {
	case sel.All:
		names, err = m.catalog.AllStreams(ctx)
	case len(sel.Categories) > 0:
		names, err = m.catalog.FilterCategories(ctx, sel.Categories)
	default:
		return sel.Names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("streams: resolve %s: %w", sel, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("streams: resolve %s: %w", sel, ErrNoStreams)
	}
	return names, nil
}

// Sync merges positions loaded from a checkpoint. Streams already tracked
// are left untouched.
func (m *Manager) Sync(positions map[string]int) {
	for name, pos := range positions {
		if _, ok := m.positions[name]; !ok {
			m.positions[name] = pos
		}
	}
}

// Bind tries to advance stream to position. A zero eventTime disables gap
// detection for the call and the position is accepted as is.
//
// With gap detection on, Bind returns false in two cases: the position was
// already accepted (HasGap stays false and the event should be skipped), or
// a gap is pending (HasGap is true and the caller should stop, then Sleep
// while HasRetry before reading again).
func (m *Manager) Bind(stream string, position int, eventTime time.Time) (bool, error) {
	current, ok := m.positions[stream]
	if !ok {
		return false, fmt.Errorf("streams: bind %s at %d: %w", stream, position, ErrUnwatchedStream)
	}

	if eventTime.IsZero() || position == current+1 {
		m.accept(stream, position)
		return true, nil
	}

	if position <= current {
		return false, nil
	}

	if len(m.delays) == 0 {
		m.confirm(current, position)
		m.accept(stream, position)
		return true, nil
	}

	if m.gapDetected && m.gapStream == stream && !m.HasRetry() {
		m.confirm(current, position)
		m.accept(stream, position)
		return true, nil
	}

	if m.window > 0 && m.clock.Now().Sub(eventTime) > m.window {
		m.open(stream)
		m.confirm(current, position)
		m.retries = len(m.delays)
		return false, nil
	}

	if !m.gapDetected || m.gapStream != stream {
		m.open(stream)
	}
	return false, nil
}

func (m *Manager) accept(stream string, position int) {
	m.positions[stream] = position
	if m.gapStream == stream || m.gapStream == "" {
		m.gapDetected = false
		m.gapStream = ""
		m.retries = 0
	}
}

func (m *Manager) open(stream string) {
	m.gapDetected = true
	m.gapStream = stream
	m.retries = 0
}

// confirm records the positions strictly between current and position as
// permanently skipped.
func (m *Manager) confirm(current, position int) {
	for p := current + 1; p < position; p++ {
		m.confirmed[p] = struct{}{}
	}
}

// HasGap reports whether a gap episode is open.
func (m *Manager) HasGap() bool {
	return m.gapDetected
}

// GapStream returns the stream of the open gap episode, if any.
func (m *Manager) GapStream() string {
	return m.gapStream
}

// HasRetry reports whether retry slots remain for the current episode.
func (m *Manager) HasRetry() bool {
	return m.retries < len(m.delays)
}

// Sleep waits for the next retry delay and consumes the slot. Calling it
// without a pending gap or with no retries left is a protocol error; guard
// with HasGap and HasRetry.
func (m *Manager) Sleep(ctx context.Context) error {
	if !m.gapDetected {
		return fmt.Errorf("streams: sleep: %w: no gap detected", ErrInvalidGapState)
	}
	if !m.HasRetry() {
		return fmt.Errorf("streams: sleep: %w: no more retries", ErrInvalidGapState)
	}

	if d := m.delays[m.retries]; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	m.retries++
	return nil
}

// Retries returns the number of retry slots consumed in the current episode.
func (m *Manager) Retries() int {
	return m.retries
}

// ConfirmedGaps returns the skipped positions in ascending order.
func (m *Manager) ConfirmedGaps() []int {
	return slices.Sorted(maps.Keys(m.confirmed))
}

// Reset forgets every stream, confirmed gap and retry.
func (m *Manager) Reset() {
	clear(m.positions)
	clear(m.confirmed)
	m.gapDetected = false
	m.gapStream = ""
	m.retries = 0
}

// Position returns the tracked position of stream.
func (m *Manager) Position(stream string) (int, bool) {
	pos, ok := m.positions[stream]
	return pos, ok
}

// Positions returns a copy of all tracked positions.
func (m *Manager) Positions() map[string]int {
	return maps.Clone(m.positions)
}

// Streams returns the tracked stream names in ascending order.
func (m *Manager) Streams() []string {
	return slices.Sorted(maps.Keys(m.positions))
}

// MarshalJSON encodes the positions snapshot persisted with a checkpoint.
func (m *Manager) MarshalJSON() ([]byte, error) {
	return codecs.NewJSONIter().Marshal(m.positions)
}
