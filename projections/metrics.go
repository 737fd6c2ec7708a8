package projections

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEventsHandled   = "prism.projection.events.handled"
	metricCheckpoints     = "prism.projection.checkpoints"
	metricGapsDetected    = "prism.projection.gaps.detected"
	metricGapRetries      = "prism.projection.gaps.retries"
	metricLockRefreshes   = "prism.projection.lock.refreshes"
	metricCycles          = "prism.projection.cycles"
	metricStatusReactions = "prism.projection.status.reactions"

	attrProjection = "projection"
	attrStatus     = "status"
)

// Metrics records projection loop instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	eventsHandled   metric.Int64Counter
	checkpoints     metric.Int64Counter
	gapsDetected    metric.Int64Counter
	gapRetries      metric.Int64Counter
	lockRefreshes   metric.Int64Counter
	cycles          metric.Int64Counter
	statusReactions metric.Int64Counter
}

// metricBuilder accumulates instrument creation errors so the constructor
// checks once.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
	return c
}

// NewMetrics creates the projection instruments on mt.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	b := &metricBuilder{meter: mt}
	m := &Metrics{
		eventsHandled:   b.counter(metricEventsHandled, "Events handled by projections", "{event}"),
		checkpoints:     b.counter(metricCheckpoints, "Checkpoints persisted", "{checkpoint}"),
		gapsDetected:    b.counter(metricGapsDetected, "Stream gaps detected", "{gap}"),
		gapRetries:      b.counter(metricGapRetries, "Gap retry sleeps", "{retry}"),
		lockRefreshes:   b.counter(metricLockRefreshes, "Projection lock refreshes", "{refresh}"),
		cycles:          b.counter(metricCycles, "Projection loop cycles", "{cycle}"),
		statusReactions: b.counter(metricStatusReactions, "Remote status transitions acted on", "{reaction}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventHandled(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.eventsHandled, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordCheckpoint(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.checkpoints, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordGap(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.gapsDetected, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordGapRetry(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.gapRetries, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordLockRefresh(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.lockRefreshes, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordCycle(ctx context.Context, projection string) {
	if m == nil {
		return
	}
	m.add(ctx, m.cycles, attribute.String(attrProjection, projection))
}

func (m *Metrics) RecordStatusReaction(ctx context.Context, projection string, status Status) {
	if m == nil {
		return
	}
	m.add(ctx, m.statusReactions,
		attribute.String(attrProjection, projection),
		attribute.String(attrStatus, string(status)),
	)
}
