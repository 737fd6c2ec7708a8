package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/prism/events"
)

// Scope is handed to reactors. It exposes the event's stream and lets the
// reactor stop the run or, in emitter projections, write new events.
type Scope struct {
	sub        *Subscription
	projection string
	writer     EventWriter
}

// Stop ends the run once the current event is handled.
func (s *Scope) Stop() {
	s.sub.sprint.Stop()
}

func (s *Scope) StreamName() string {
	return s.sub.currentStream
}

func (s *Scope) ProjectionName() string {
	return s.projection
}

// Emit appends evt to the stream named after the projection.
func (s *Scope) Emit(ctx context.Context, evt events.Event) error {
	return s.LinkTo(ctx, s.projection, evt)
}

// LinkTo appends evt to stream.
func (s *Scope) LinkTo(ctx context.Context, stream string, evt events.Event) error {
	if s.writer == nil {
		return fmt.Errorf("projections: link to %s: %w", stream, ErrEmitUnsupported)
	}
	evt.StreamID = stream
	evt.Version = 0
	if err := s.writer.AppendToEnd(ctx, stream, []events.Event{evt}); err != nil {
		return fmt.Errorf("projections: %s link to %s: %w", s.projection, stream, err)
	}
	return nil
}
