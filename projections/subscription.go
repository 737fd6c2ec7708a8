package projections

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ripkitten-co/prism/clock"
	"github.com/ripkitten-co/prism/internal/codecs"
	"github.com/ripkitten-co/prism/streams"
)

// Subscription is the mutable state one Run threads through every activity.
type Subscription struct {
	name    string
	sprint  *Sprint
	counter *EventCounter
	streams *streams.Manager
	loop    *Loop
	timer   *Timer

	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	codec   codecs.Codec

	reg      *Registration
	scope    *Scope
	state    any
	iterator *StreamIterator

	currentStream string
	processed     int
	idle          int
	resets        int
	status        Status
}

func newSubscription(name string, catalog streams.Catalog, s settings) *Subscription {
	return &Subscription{
		name:    name,
		sprint:  &Sprint{},
		counter: NewEventCounter(s.cfg.BlockSize),
		streams: streams.NewManager(catalog, s.clock, streams.Config{
			Retries:         s.cfg.Retries,
			DetectionWindow: s.cfg.DetectionWindow,
		}),
		loop:    &Loop{},
		timer:   &Timer{},
		clock:   s.clock,
		logger:  s.logger.With("projection", name),
		metrics: s.metrics,
		codec:   s.codec,
		status:  StatusIdle,
	}
}

// Compose binds a registration and scope to the subscription for one run.
func (s *Subscription) Compose(reg *Registration, scope *Scope, inBackground bool) {
	s.reg = reg
	s.scope = scope
	scope.sub = s
	s.timer.duration = reg.timer
	s.sprint.RunInBackground(inBackground)
	s.sprint.Continue()
	s.state = reg.newState()
}

func (s *Subscription) Name() string { return s.name }
func (s *Subscription) Context() *Registration { return s.reg }
func (s *Subscription) Sprint() *Sprint { return s.sprint }
func (s *Subscription) Counter() *EventCounter { return s.counter }
func (s *Subscription) Streams() *streams.Manager { return s.streams }
func (s *Subscription) Loop() *Loop { return s.loop }
func (s *Subscription) State() any { return s.state }
func (s *Subscription) CurrentStreamName() string { return s.currentStream }
func (s *Subscription) Processed() int { return s.processed }
func (s *Subscription) SetStreamIterator(it *StreamIterator) { s.iterator = it }

// PullStreamIterator hands over the current iterator and clears it.
func (s *Subscription) PullStreamIterator() *StreamIterator {
	it := s.iterator
	s.iterator = nil
	return it
}

// DiscoverStreams resolves the selector again so streams created since the
// run started are read without a restart.
func (s *Subscription) DiscoverStreams(ctx context.Context) error {
	if err := s.streams.Watch(ctx, s.reg.selector); err != nil {
		return fmt.Errorf("projections: %s discover streams: %w", s.name, err)
	}
	return nil
}

// Reset forgets positions and state. Streams must be discovered again before
// the next bind.
func (s *Subscription) Reset() {
	s.resets++
	s.streams.Reset()
	s.counter.Reset()
	s.state = s.reg.newState()
}

func (s *Subscription) encodePositions() ([]byte, error) {
	data, err := s.streams.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("projections: %s encode positions: %w", s.name, err)
	}
	return data, nil
}

func (s *Subscription) encodeState() ([]byte, error) {
	data, err := s.codec.Marshal(s.state)
	if err != nil {
		return nil, fmt.Errorf("projections: %s encode state: %w", s.name, err)
	}
	return data, nil
}

func (s *Subscription) restore(positions, state []byte) error {
	var pos map[string]int
	if err := s.codec.Unmarshal(positions, &pos); err != nil {
		return fmt.Errorf("projections: %s decode positions: %w", s.name, err)
	}
	s.streams.Sync(pos)

	decoded, err := s.reg.decode(s.codec, state)
	if err != nil {
		return fmt.Errorf("projections: %s decode state: %w", s.name, err)
	}
	s.state = decoded
	return nil
}

// halted checks the registered halt conditions and stops the sprint on the
// first one met.
func (s *Subscription) halted(endOfCycle bool) bool {
	for _, h := range s.reg.haltOn {
		if h.cycleBound && !endOfCycle {
			continue
		}
		if h.check(s) {
			if s.sprint.InProgress() {
				s.logger.Info("projection halted", "condition", h.name, "processed", s.processed)
			}
			s.sprint.Stop()
			return true
		}
	}
	return false
}
