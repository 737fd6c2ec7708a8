package projections

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// capabilities describe what a projection kind needs from its cycle.
type capabilities struct {
	reader  EventReader
	wakeup  Wakeup
	monitor *Monitor
	mgmt    management
	cfg     Config
	signals <-chan os.Signal
}

func queryActivities(c capabilities) []Activity {
	return []Activity{
		runUntil{},
		prepareQueryRunner{},
		loadStreams{reader: c.reader, wakeup: c.wakeup, cfg: c.cfg},
		handleStreamEvent{},
		dispatchSignal{signals: c.signals},
		refreshProjection{},
		handleLoop{},
	}
}

func persistentActivities(c capabilities) []Activity {
	return []Activity{
		runUntil{},
		risePersistentProjection{monitor: c.monitor, mgmt: c.mgmt},
		loadStreams{reader: c.reader, wakeup: c.wakeup, cfg: c.cfg},
		handleStreamEvent{detectGaps: true, mgmt: c.mgmt, monitor: c.monitor},
		handleStreamGap{mgmt: c.mgmt},
		persistOrUpdate{mgmt: c.mgmt, cfg: c.cfg},
		resetEventCounter{},
		dispatchSignal{signals: c.signals},
		refreshProjection{monitor: c.monitor},
		handleLoop{},
	}
}

// workflow drives the activity chain once per cycle while the sprint is in
// progress in a background run.
type workflow struct {
	process Next
	tracer  trace.Tracer
}

func newWorkflow(activities []Activity, tracer trace.Tracer) *workflow {
	return &workflow{process: chain(activities), tracer: tracer}
}

func (w *workflow) run(ctx context.Context, sub *Subscription) error {
	for {
		cycleCtx, span := w.tracer.Start(ctx, "projection.cycle", trace.WithAttributes(
			attribute.String("projection", sub.name),
			attribute.Int("cycle", sub.loop.Cycle()+1),
		))
		_, err := w.process(cycleCtx, sub)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			return err
		}
		if !sub.sprint.InBackground() || !sub.sprint.InProgress() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// notifySignals subscribes to termination signals when enabled. The returned
// function unsubscribes.
func notifySignals(s settings) (<-chan os.Signal, func()) {
	if s.signals != nil {
		return s.signals, func() {}
	}
	if !s.cfg.Signals {
		return nil, func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}
