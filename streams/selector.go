package streams

import (
	"fmt"
	"slices"
	"strings"
)

// Selector picks the streams a projection reads: explicit names, every
// stream of some categories, or all streams. Exactly one must be set.
type Selector struct {
	Names      []string
	Categories []string
	All        bool
}

func FromStreams(names ...string) Selector {
	return Selector{Names: dedupe(names)}
}

func FromCategories(categories ...string) Selector {
	return Selector{Categories: dedupe(categories)}
}

func FromAll() Selector {
	return Selector{All: true}
}

// IsZero reports whether nothing was selected yet.
func (s Selector) IsZero() bool {
	return !s.All && s.Names == nil && s.Categories == nil
}

func (s Selector) Validate() error {
	set := 0
	if s.All {
		set++
	}
	if s.Names != nil {
		set++
	}
	if s.Categories != nil {
		set++
	}
	switch {
	case set != 1:
		return fmt.Errorf("streams: %w: exactly one of names, categories or all is required", ErrInvalidSelector)
	case s.Names != nil && len(s.Names) == 0:
		return fmt.Errorf("streams: %w: stream names cannot be empty", ErrInvalidSelector)
	case s.Categories != nil && len(s.Categories) == 0:
		return fmt.Errorf("streams: %w: categories cannot be empty", ErrInvalidSelector)
	}
	for _, n := range append(slices.Clone(s.Names), s.Categories...) {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("streams: %w: blank stream or category name", ErrInvalidSelector)
		}
	}
	return nil
}

func (s Selector) String() string {
	switch {
	case s.All:
		return "all streams"
	case s.Categories != nil:
		return "categories " + strings.Join(s.Categories, ",")
	default:
		return "streams " + strings.Join(s.Names, ",")
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
