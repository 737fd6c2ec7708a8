package projections

import "github.com/ripkitten-co/prism/events"

// QueryFilter bounds the read of one stream in a cycle. from is the first
// position not yet handled; limit is the configured load limit, zero for
// unbounded reads.
//
// Descending reads are only accepted by one-shot query runs. Positions are
// tracked forward, so a descending batch would look like gaps to a persistent
// projection and be read again on every cycle of a background run.
type QueryFilter interface {
	Apply(stream string, from, limit int) events.Filter
}

// FromIncludedPosition reads ascending from the next expected position.
type FromIncludedPosition struct{}

func (FromIncludedPosition) Apply(_ string, from, limit int) events.Filter {
	return events.Filter{From: from, Order: events.Ascending, Limit: limit}
}

// QueryFilterFunc adapts a function to QueryFilter.
type QueryFilterFunc func(stream string, from, limit int) events.Filter

func (f QueryFilterFunc) Apply(stream string, from, limit int) events.Filter {
	return f(stream, from, limit)
}
