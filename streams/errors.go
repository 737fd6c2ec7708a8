package streams

import "errors"

var (
	// ErrInvalidSelector is returned when a selector names no streams or mixes
	// names, categories and "all".
	ErrInvalidSelector = errors.New("invalid stream selector")

	// ErrNoStreams is returned when a category or "all" selector resolves to
	// nothing.
	ErrNoStreams = errors.New("no streams found")

	// ErrUnwatchedStream is returned when binding a position for a stream the
	// manager never watched.
	ErrUnwatchedStream = errors.New("stream is not watched")

	// ErrInvalidGapState is returned by Sleep when no gap is pending or the
	// retries are exhausted.
	ErrInvalidGapState = errors.New("invalid gap state")
)
