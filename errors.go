package prism

import "errors"

var (
	// ErrNotFound is returned when a read-model document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when an optimistic locking check fails.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStreamExists is returned when appending to an already-existing stream
	// with expectedVersion 0.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound is returned by filtered reads when a stream has no
	// events at or after the requested position. Projections treat it as
	// "nothing new" rather than a failure.
	ErrStreamNotFound = errors.New("stream not found")
)
