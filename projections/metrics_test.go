package projections_test

import (
	"context"
	"testing"

	"github.com/ripkitten-co/prism/inmemory"
	"github.com/ripkitten-co/prism/projections"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetrics_RecordedDuringRun(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	metrics, err := projections.NewMetrics(mp.Meter("prism-test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	log := gapLog(t)
	p := projections.NewReadModel[tally]("order_totals", log, inmemory.NewProvider(), &memoryReadModel{},
		projections.WithLogger(quietLogger()),
		projections.WithMetrics(metrics),
		projections.WithRetries(),
		projections.WithBlockSize(5),
	)
	p.FromStreams("order-1").When(count)

	if _, err := p.Run(ctx, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := counterValue(t, rm, "prism.projection.events.handled"); got != 11 {
		t.Errorf("events handled: got %d, want 11", got)
	}
	if got := counterValue(t, rm, "prism.projection.checkpoints"); got != 3 {
		t.Errorf("checkpoints: got %d, want 3", got)
	}
	if got := counterValue(t, rm, "prism.projection.cycles"); got != 1 {
		t.Errorf("cycles: got %d, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *projections.Metrics
	ctx := context.Background()
	m.RecordEventHandled(ctx, "p")
	m.RecordCheckpoint(ctx, "p")
	m.RecordGap(ctx, "p")
	m.RecordGapRetry(ctx, "p")
	m.RecordLockRefresh(ctx, "p")
	m.RecordCycle(ctx, "p")
	m.RecordStatusReaction(ctx, "p", projections.StatusStopping)
}

func TestTracing_SpanPerCycle(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 3)
	q := projections.NewQuery[tally]("traced", log,
		projections.WithLogger(quietLogger()),
		projections.WithTracerProvider(tp),
		projections.WithConfig(projections.Config{BlockSize: 10, LoadLimit: 10}),
	)
	q.FromStreams("order-1").When(count).HaltOn(projections.HaltOnCycles(3))

	if _, err := q.Run(ctx, true); err != nil {
		t.Fatalf("run: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans: got %d, want 3", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "projection.cycle" {
			t.Errorf("span name: got %q", s.Name())
		}
	}
}
