package projections

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/events"
)

// Next invokes the rest of the activity chain.
type Next func(ctx context.Context, sub *Subscription) (bool, error)

// Activity is one step of a projection cycle. It either calls next and
// returns its result or returns early to cut the cycle short.
type Activity interface {
	Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error)
}

// chain nests activities so the first one is outermost.
func chain(activities []Activity) Next {
	next := Next(func(context.Context, *Subscription) (bool, error) { return true, nil })
	for i := len(activities) - 1; i >= 0; i-- {
		activity, inner := activities[i], next
		next = func(ctx context.Context, sub *Subscription) (bool, error) {
			return activity.Invoke(ctx, sub, inner)
		}
	}
	return next
}

// runUntil stops the sprint once the registered run duration elapsed.
type runUntil struct{}

func (runUntil) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if !sub.timer.IsStarted() {
		sub.timer.Start(sub.clock.Now())
	}
	ok, err := next(ctx, sub)
	if err != nil {
		return false, err
	}
	if sub.timer.IsElapsed(sub.clock.Now()) {
		sub.logger.Info("projection run time elapsed", "duration", sub.timer.duration)
		sub.sprint.Stop()
		return false, nil
	}
	return ok, nil
}

// prepareQueryRunner resolves the streams on the first cycle.
type prepareQueryRunner struct{}

func (prepareQueryRunner) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if !sub.loop.HasStarted() {
		if err := sub.DiscoverStreams(ctx); err != nil {
			return false, err
		}
	}
	return next(ctx, sub)
}

// risePersistentProjection honors a pending remote request and otherwise
// takes the lock and restores the checkpoint, once per run.
type risePersistentProjection struct {
	monitor *Monitor
	mgmt    management
}

func (a risePersistentProjection) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if !sub.loop.HasStarted() {
		stop, err := a.monitor.Refresh(ctx, sub, true)
		if err != nil {
			return false, err
		}
		if stop {
			return false, nil
		}
		if err := a.mgmt.rise(ctx, sub); err != nil {
			return false, err
		}
	}
	return next(ctx, sub)
}

// loadStreams reads every watched stream past its position and merges the
// results into the subscription's iterator.
type loadStreams struct {
	reader EventReader
	wakeup Wakeup
	cfg    Config
}

func (a loadStreams) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	limit := 0
	if sub.sprint.InBackground() {
		limit = a.cfg.LoadLimit
	}

	filter := sub.reg.QueryFilter()
	order := events.Ascending
	var batches [][]events.Event
	for _, name := range sub.streams.Streams() {
		pos, _ := sub.streams.Position(name)
		f := filter.Apply(name, pos+1, limit)
		order = f.Order

		evts, err := a.reader.RetrieveFiltered(ctx, name, f)
		if errors.Is(err, prism.ErrStreamNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("projections: %s load %s: %w", sub.name, name, err)
		}
		batches = append(batches, evts)
	}

	it := newStreamIterator(batches, order)
	sub.SetStreamIterator(it)

	if it.Len() > 0 {
		sub.idle = 0
	} else if sub.sprint.InBackground() {
		if err := a.backoff(ctx, sub); err != nil {
			return false, err
		}
	}
	return next(ctx, sub)
}

// backoff waits while nothing is due, doubling the wait on every empty
// cycle up to MaxIdleSleep.
func (a loadStreams) backoff(ctx context.Context, sub *Subscription) error {
	d := a.cfg.IdleSleep
	if d <= 0 {
		return nil
	}
	for i := 0; i < sub.idle && d < a.cfg.MaxIdleSleep; i++ {
		d *= 2
	}
	if a.cfg.MaxIdleSleep > 0 && d > a.cfg.MaxIdleSleep {
		d = a.cfg.MaxIdleSleep
	}
	if d < a.cfg.MaxIdleSleep {
		sub.idle++
	}

	if a.wakeup != nil {
		return a.wakeup.Wait(ctx, d)
	}
	return sleep(ctx, d)
}

// handleStreamEvent feeds the merged events to the reactors. Persistent
// projections check gaps, checkpoint every full block and then look at their
// remote status.
type handleStreamEvent struct {
	detectGaps bool
	mgmt       management
	monitor    *Monitor
}

func (a handleStreamEvent) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	it := sub.PullStreamIterator()
	for {
		evt, ok := it.Next()
		if !ok {
			break
		}
		sub.currentStream = evt.StreamID

		var eventTime time.Time
		if a.detectGaps {
			eventTime = evt.CreatedAt
		}
		bound, err := sub.streams.Bind(evt.StreamID, evt.Version, eventTime)
		if err != nil {
			return false, err
		}
		if !bound {
			if !sub.streams.HasGap() {
				continue
			}
			sub.metrics.RecordGap(ctx, sub.name)
			sub.logger.Warn("stream gap detected",
				"stream", evt.StreamID,
				"position", evt.Version,
				"retries", sub.streams.Retries(),
				"has_retry", sub.streams.HasRetry(),
			)
			if sub.halted(false) || sub.streams.HasRetry() {
				break
			}
			// no retry left: the next bind confirms the gap and accepts
			if bound, err = sub.streams.Bind(evt.StreamID, evt.Version, eventTime); err != nil {
				return false, err
			}
			if !bound {
				break
			}
			sub.logger.Info("stream gap confirmed", "stream", evt.StreamID, "position", evt.Version)
		}

		if err := react(ctx, sub, evt); err != nil {
			return false, err
		}
		sub.counter.Increment()
		sub.processed++
		sub.metrics.RecordEventHandled(ctx, sub.name)

		if a.mgmt != nil && sub.counter.IsReached() {
			if err := a.mgmt.store(ctx, sub); err != nil {
				return false, err
			}
			sub.counter.Reset()
			resets := sub.resets
			if _, err := a.monitor.Refresh(ctx, sub, sub.loop.IsFirstLoop()); err != nil {
				return false, err
			}
			if sub.resets != resets {
				// the rest of the batch was read from positions that no
				// longer exist
				if sub.sprint.InProgress() {
					if err := sub.DiscoverStreams(ctx); err != nil {
						return false, err
					}
				}
				break
			}
		}

		if sub.halted(false) || !sub.sprint.InProgress() {
			break
		}
	}
	return next(ctx, sub)
}

func react(ctx context.Context, sub *Subscription, evt events.Event) error {
	fn := sub.reg.reactorFor(evt.Type)
	if fn == nil {
		return nil
	}
	state, err := fn(ctx, sub.scope, evt, sub.state)
	if err != nil {
		return fmt.Errorf("projections: %s react to %s %s@%d: %w", sub.name, evt.Type, evt.StreamID, evt.Version, err)
	}
	sub.state = state
	return nil
}

// handleStreamGap checkpoints what was handled before a gap and waits one
// retry slot.
type handleStreamGap struct {
	mgmt management
}

func (a handleStreamGap) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if sub.streams.HasGap() {
		if !sub.counter.IsReset() {
			if err := a.mgmt.store(ctx, sub); err != nil {
				return false, err
			}
		}
		if sub.streams.HasRetry() && sub.sprint.InProgress() {
			if err := sub.streams.Sleep(ctx); err != nil {
				return false, err
			}
			sub.metrics.RecordGapRetry(ctx, sub.name)
		}
	}
	return next(ctx, sub)
}

// persistOrUpdate checkpoints a partial block, or renews the lock when
// nothing was handled since the last checkpoint.
type persistOrUpdate struct {
	mgmt management
	cfg  Config
}

func (a persistOrUpdate) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if !sub.streams.HasGap() {
		if sub.counter.IsReset() {
			if sub.sprint.InBackground() && sub.sprint.InProgress() {
				if err := sleep(ctx, a.cfg.Sleep); err != nil {
					return false, err
				}
			}
			if err := a.mgmt.renew(ctx, sub); err != nil {
				return false, err
			}
		} else if err := a.mgmt.store(ctx, sub); err != nil {
			return false, err
		}
	}
	return next(ctx, sub)
}

type resetEventCounter struct{}

func (resetEventCounter) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	sub.counter.Reset()
	return next(ctx, sub)
}

// dispatchSignal stops the sprint when a termination signal arrived.
type dispatchSignal struct {
	signals <-chan os.Signal
}

func (a dispatchSignal) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if a.signals != nil {
		select {
		case sig := <-a.signals:
			sub.logger.Info("projection stopping on signal", "signal", sig.String())
			sub.sprint.Stop()
		default:
		}
	}
	return next(ctx, sub)
}

// refreshProjection reacts to the remote status, when there is one, and
// picks up streams created since the last cycle.
type refreshProjection struct {
	monitor *Monitor
}

func (a refreshProjection) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	if a.monitor != nil {
		if _, err := a.monitor.Refresh(ctx, sub, sub.loop.IsFirstLoop()); err != nil {
			return false, err
		}
	}
	if sub.sprint.InProgress() {
		if err := sub.DiscoverStreams(ctx); err != nil {
			return false, err
		}
	}
	return next(ctx, sub)
}

// handleLoop counts cycles and ends one-shot runs after their first cycle.
type handleLoop struct{}

func (handleLoop) Invoke(ctx context.Context, sub *Subscription, next Next) (bool, error) {
	sub.loop.Start()
	ok, err := next(ctx, sub)
	if err != nil {
		return false, err
	}
	sub.metrics.RecordCycle(ctx, sub.name)
	sub.halted(true)

	if !sub.sprint.InBackground() || !sub.sprint.InProgress() {
		sub.loop.Reset()
	} else {
		sub.loop.Next()
	}
	return ok, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
