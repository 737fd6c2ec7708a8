package events

// Order is the direction of a per-stream read.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// Filter bounds a per-stream read: versions from From (inclusive) in the
// given order, at most Limit events when Limit is positive.
type Filter struct {
	From  int
	Order Order
	Limit int
}

// Match reports whether an event version falls inside the filter's range.
// Limits are applied by the caller after ordering.
func (f Filter) Match(version int) bool {
	return version >= f.From
}
