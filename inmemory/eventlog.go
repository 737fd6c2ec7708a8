// Package inmemory provides an event log and a projection provider held in
// process memory, for tests and for embedding projections without
// PostgreSQL.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/clock"
	"github.com/ripkitten-co/prism/events"
)

// EventLog is an in-memory events.Store. It is safe for concurrent use.
type EventLog struct {
	mu      sync.RWMutex
	clock   clock.Clock
	streams map[string][]events.Event
	global  int64
}

func NewEventLog(clk clock.Clock) *EventLog {
	if clk == nil {
		clk = clock.System()
	}
	return &EventLog{clock: clk, streams: make(map[string][]events.Event)}
}

// Append writes events with optimistic concurrency control, following
// events.Store.Append.
func (l *EventLog) Append(_ context.Context, streamID string, expectedVersion int, evts []events.Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("inmemory: append %s: at least one event required", streamID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.version(streamID)
	if expectedVersion == 0 && current > 0 {
		return fmt.Errorf("inmemory: append %s: %w", streamID, prism.ErrStreamExists)
	}
	if expectedVersion > 0 && current != expectedVersion {
		return fmt.Errorf("inmemory: append %s: expected version %d but got %d: %w",
			streamID, expectedVersion, current, prism.ErrConcurrencyConflict)
	}

	for i, evt := range evts {
		l.insert(streamID, current+i+1, evt)
	}
	return nil
}

func (l *EventLog) AppendToEnd(_ context.Context, streamID string, evts []events.Event) error {
	if len(evts) == 0 {
		return fmt.Errorf("inmemory: append %s: at least one event required", streamID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.version(streamID)
	for i, evt := range evts {
		l.insert(streamID, current+i+1, evt)
	}
	return nil
}

// AppendAt writes evt at an explicit position, leaving any positions below it
// empty. It simulates writers whose reserved positions are not visible yet.
func (l *EventLog) AppendAt(streamID string, position int, evt events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.streams[streamID] {
		if e.Version == position {
			return fmt.Errorf("inmemory: append %s at %d: %w", streamID, position, prism.ErrConcurrencyConflict)
		}
	}
	l.insert(streamID, position, evt)
	return nil
}

func (l *EventLog) insert(streamID string, position int, evt events.Event) {
	l.global++
	evt.StreamID = streamID
	evt.Version = position
	evt.GlobalPosition = l.global
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = l.clock.Now()
	}
	if evt.Data == nil {
		evt.Data = []byte(`{}`)
	}

	stream := append(l.streams[streamID], evt)
	slices.SortFunc(stream, func(a, b events.Event) int { return a.Version - b.Version })
	l.streams[streamID] = stream
}

func (l *EventLog) version(streamID string) int {
	stream := l.streams[streamID]
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].Version
}

// RetrieveFiltered follows events.Store.RetrieveFiltered, including the
// prism.ErrStreamNotFound signal when nothing matches.
func (l *EventLog) RetrieveFiltered(_ context.Context, streamID string, f events.Filter) ([]events.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []events.Event
	for _, evt := range l.streams[streamID] {
		if f.Match(evt.Version) {
			result = append(result, evt)
		}
	}
	if f.Order == events.Descending {
		slices.Reverse(result)
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("inmemory: read %s: %w", streamID, prism.ErrStreamNotFound)
	}
	return result, nil
}

func (l *EventLog) ReadStream(ctx context.Context, streamID string, fromVersion int) ([]events.Event, error) {
	evts, err := l.RetrieveFiltered(ctx, streamID, events.Filter{From: fromVersion})
	if errors.Is(err, prism.ErrStreamNotFound) {
		return nil, nil
	}
	return evts, err
}

func (l *EventLog) FirstCommit(ctx context.Context, streamID string) (events.Event, error) {
	evts, err := l.RetrieveFiltered(ctx, streamID, events.Filter{Limit: 1})
	if err != nil {
		return events.Event{}, err
	}
	return evts[0], nil
}

func (l *EventLog) DeleteStream(_ context.Context, streamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.streams[streamID]) == 0 {
		return fmt.Errorf("inmemory: delete %s: %w", streamID, prism.ErrStreamNotFound)
	}
	delete(l.streams, streamID)
	return nil
}

func (l *EventLog) FilterStreams(_ context.Context, names []string) ([]string, error) {
	return l.matching(func(id string) bool { return slices.Contains(names, id) }), nil
}

func (l *EventLog) FilterCategories(_ context.Context, categories []string) ([]string, error) {
	return l.matching(func(id string) bool { return slices.Contains(categories, events.Category(id)) }), nil
}

// AllStreams lists every stream except internal ones.
func (l *EventLog) AllStreams(context.Context) ([]string, error) {
	return l.matching(func(id string) bool { return !strings.HasPrefix(id, events.InternalStreamPrefix) }), nil
}

func (l *EventLog) HasStream(_ context.Context, streamID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.streams[streamID]) > 0, nil
}

func (l *EventLog) matching(keep func(id string) bool) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for id, stream := range l.streams {
		if len(stream) > 0 && keep(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
