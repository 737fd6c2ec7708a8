package projections

import (
	"cmp"
	"slices"

	"github.com/ripkitten-co/prism/events"
)

// StreamIterator yields the events of several streams in one deterministic
// order: by event time, then stream position, then stream name. Descending
// iterators reverse every key.
type StreamIterator struct {
	events []events.Event
	next   int
}

func newStreamIterator(batches [][]events.Event, order events.Order) *StreamIterator {
	var merged []events.Event
	for _, batch := range batches {
		merged = append(merged, batch...)
	}
	slices.SortStableFunc(merged, func(a, b events.Event) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.Version, b.Version)
		}
		if c == 0 {
			c = cmp.Compare(a.StreamID, b.StreamID)
		}
		if order == events.Descending {
			return -c
		}
		return c
	})
	return &StreamIterator{events: merged}
}

// Next returns the next event and false once the iterator is drained.
func (it *StreamIterator) Next() (events.Event, bool) {
	if it == nil || it.next >= len(it.events) {
		return events.Event{}, false
	}
	evt := it.events[it.next]
	it.next++
	return evt, true
}

// Len returns the number of events not yet returned.
func (it *StreamIterator) Len() int {
	if it == nil {
		return 0
	}
	return len(it.events) - it.next
}
