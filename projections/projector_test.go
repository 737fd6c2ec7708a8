package projections_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ripkitten-co/prism/clock"
	"github.com/ripkitten-co/prism/events"
	"github.com/ripkitten-co/prism/inmemory"
	"github.com/ripkitten-co/prism/projections"
)

type tally struct {
	Count int `json:"count"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func appendEvents(t *testing.T, log *inmemory.EventLog, stream string, n int) {
	t.Helper()
	evts := make([]events.Event, n)
	for i := range evts {
		evts[i] = events.Event{Type: "ItemAdded", Data: []byte(fmt.Sprintf(`{"n":%d}`, i+1))}
	}
	if err := log.AppendToEnd(context.Background(), stream, evts); err != nil {
		t.Fatalf("append %s: %v", stream, err)
	}
}

func count(_ context.Context, _ *projections.Scope, _ events.Event, s tally) (tally, error) {
	s.Count++
	return s, nil
}

// memoryReadModel records the lifecycle calls a read-model projection makes.
type memoryReadModel struct {
	initialized bool
	inits       int
	persists    int
	resets      int
	downs       int
}

func (m *memoryReadModel) Initialize(context.Context) error {
	m.initialized = true
	m.inits++
	return nil
}

func (m *memoryReadModel) IsInitialized(context.Context) (bool, error) { return m.initialized, nil }

func (m *memoryReadModel) Persist(context.Context) error {
	m.persists++
	return nil
}

func (m *memoryReadModel) Reset(context.Context) error {
	m.resets++
	return nil
}

func (m *memoryReadModel) Down(context.Context) error {
	m.initialized = false
	m.downs++
	return nil
}

func TestQuery_CountsStream(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 10)

	q := projections.NewQuery[tally]("order_count", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(count)

	state, err := q.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 10 {
		t.Fatalf("count: got %d, want 10", state.Count)
	}
}

func TestQuery_StopFromReactor(t *testing.T) {
	for _, background := range []bool{false, true} {
		t.Run(fmt.Sprintf("background=%v", background), func(t *testing.T) {
			log := inmemory.NewEventLog(nil)
			appendEvents(t, log, "order-1", 10)

			q := projections.NewQuery[tally]("order_count", log, projections.WithLogger(quietLogger()))
			q.FromStreams("order-1").When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
				s.Count++
				if s.Count == 5 {
					scope.Stop()
				}
				return s, nil
			})

			state, err := q.Run(context.Background(), background)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if state.Count != 5 {
				t.Fatalf("count: got %d, want 5", state.Count)
			}
		})
	}
}

func TestQuery_CategoriesAndTypedReactors(t *testing.T) {
	ctx := context.Background()
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 2)
	appendEvents(t, log, "order-2", 2)
	appendEvents(t, log, "account-1", 3)
	if err := log.AppendToEnd(ctx, "order-2", []events.Event{{Type: "OrderShipped"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	type summary struct {
		Items   int
		Shipped []string
	}
	q := projections.NewQuery[summary]("order_summary", log, projections.WithLogger(quietLogger()))
	q.FromCategories("order").
		On("ItemAdded", func(_ context.Context, _ *projections.Scope, _ events.Event, s summary) (summary, error) {
			s.Items++
			return s, nil
		}).
		On("OrderShipped", func(_ context.Context, scope *projections.Scope, _ events.Event, s summary) (summary, error) {
			s.Shipped = append(s.Shipped, scope.StreamName())
			return s, nil
		})

	state, err := q.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Items != 4 {
		t.Errorf("items: got %d, want 4", state.Items)
	}
	if len(state.Shipped) != 1 || state.Shipped[0] != "order-2" {
		t.Errorf("shipped: got %v", state.Shipped)
	}
}

func TestQuery_InitializeSetsStartingState(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 3)

	q := projections.NewQuery[tally]("order_count", log, projections.WithLogger(quietLogger()))
	q.Initialize(func() tally { return tally{Count: 100} }).FromStreams("order-1").When(count)

	state, err := q.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 103 {
		t.Fatalf("count: got %d, want 103", state.Count)
	}
}

func TestQuery_InvalidContext(t *testing.T) {
	log := inmemory.NewEventLog(nil)

	tests := []struct {
		name  string
		build func(q *projections.QueryProjector[tally])
	}{
		{"no streams", func(q *projections.QueryProjector[tally]) { q.When(count) }},
		{"no reactor", func(q *projections.QueryProjector[tally]) { q.FromStreams("order-1") }},
		{"empty stream list", func(q *projections.QueryProjector[tally]) { q.FromStreams().When(count) }},
		{"streams twice", func(q *projections.QueryProjector[tally]) { q.FromStreams("order-1").FromAll().When(count) }},
		{"reactor twice", func(q *projections.QueryProjector[tally]) { q.FromStreams("order-1").When(count).When(count) }},
		{"typed reactor twice", func(q *projections.QueryProjector[tally]) {
			q.FromStreams("order-1").On("ItemAdded", count).On("ItemAdded", count)
		}},
		{"initializer twice", func(q *projections.QueryProjector[tally]) {
			q.Initialize(func() tally { return tally{} }).Initialize(func() tally { return tally{} }).FromStreams("order-1").When(count)
		}},
		{"non-positive timer", func(q *projections.QueryProjector[tally]) { q.FromStreams("order-1").When(count).Until(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := projections.NewQuery[tally]("invalid", log)
			tt.build(q)
			_, err := q.Run(context.Background(), false)
			if !errors.Is(err, projections.ErrInvalidContext) {
				t.Fatalf("expected ErrInvalidContext, got %v", err)
			}
		})
	}
}

func TestQuery_ReactorErrorAbortsRun(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 3)
	boom := errors.New("boom")

	q := projections.NewQuery[tally]("failing", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(func(context.Context, *projections.Scope, events.Event, tally) (tally, error) {
		return tally{}, boom
	})

	if _, err := q.Run(context.Background(), false); !errors.Is(err, boom) {
		t.Fatalf("expected reactor error, got %v", err)
	}
}

func TestQuery_EmitUnsupported(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 1)

	q := projections.NewQuery[tally]("no_emit", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
		return s, scope.Emit(ctx, events.Event{Type: "Derived"})
	})

	if _, err := q.Run(context.Background(), false); !errors.Is(err, projections.ErrEmitUnsupported) {
		t.Fatalf("expected ErrEmitUnsupported, got %v", err)
	}
}

func TestQuery_HaltOnEventsProcessed(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 10)

	q := projections.NewQuery[tally]("halted", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(count).HaltOn(projections.HaltOnEventsProcessed(4))

	state, err := q.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 4 {
		t.Fatalf("count: got %d, want 4", state.Count)
	}
}

func TestQuery_HaltOnCyclesPicksUpNewStreams(t *testing.T) {
	ctx := context.Background()
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 2)

	q := projections.NewQuery[tally]("all_orders", log,
		projections.WithLogger(quietLogger()),
		projections.WithConfig(projections.Config{BlockSize: 10, LoadLimit: 10}),
	)
	appended := false
	q.FromCategories("order").When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
		s.Count++
		if !appended {
			appended = true
			appendEvents(t, log, "order-2", 3)
		}
		return s, nil
	}).HaltOn(projections.HaltOnCycles(2))

	state, err := q.Run(ctx, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 5 {
		t.Fatalf("count: got %d, want 5", state.Count)
	}
}

func TestQuery_UntilStopsBackgroundRun(t *testing.T) {
	clk := clock.NewFake(epoch)
	log := inmemory.NewEventLog(clk)
	appendEvents(t, log, "order-1", 10)

	q := projections.NewQuery[tally]("timed", log,
		projections.WithLogger(quietLogger()),
		projections.WithClock(clk),
	)
	q.FromStreams("order-1").When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
		clk.Advance(time.Minute)
		return count(ctx, scope, evt, s)
	}).Until(5 * time.Minute)

	state, err := q.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 10 {
		t.Fatalf("count: got %d, want 10", state.Count)
	}
}

func TestQuery_CancelledBackgroundRun(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	q := projections.NewQuery[tally]("cancelled", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
		cancel()
		return count(ctx, scope, evt, s)
	})

	state, err := q.Run(ctx, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if state.Count != 1 {
		t.Errorf("count: got %d, want 1", state.Count)
	}
}

func TestQuery_CustomQueryFilter(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 10)

	q := projections.NewQuery[tally]("recent", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").When(count).WithQueryFilter(projections.QueryFilterFunc(func(_ string, from, limit int) events.Filter {
		return events.Filter{From: max(from, 8), Limit: limit}
	}))

	state, err := q.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Count != 3 {
		t.Fatalf("count: got %d, want 3", state.Count)
	}
}

func TestQuery_DescendingQueryFilter(t *testing.T) {
	log := inmemory.NewEventLog(nil)
	appendEvents(t, log, "order-1", 5)
	descending := projections.QueryFilterFunc(func(_ string, from, limit int) events.Filter {
		return events.Filter{From: from, Order: events.Descending, Limit: limit}
	})

	var seen []int
	q := projections.NewQuery[tally]("latest_first", log, projections.WithLogger(quietLogger()))
	q.FromStreams("order-1").WithQueryFilter(descending).When(func(ctx context.Context, scope *projections.Scope, evt events.Event, s tally) (tally, error) {
		seen = append(seen, evt.Version)
		return count(ctx, scope, evt, s)
	})

	state, err := q.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("one-shot run: %v", err)
	}
	if state.Count != 5 || len(seen) != 5 || seen[0] != 5 || seen[4] != 1 {
		t.Fatalf("one-shot run: count=%d versions=%v", state.Count, seen)
	}

	if _, err := q.Run(context.Background(), true); !errors.Is(err, projections.ErrInvalidContext) {
		t.Fatalf("background run: expected ErrInvalidContext, got %v", err)
	}

	provider := inmemory.NewProvider()
	p := projections.NewReadModel[tally]("latest_first", log, provider, &memoryReadModel{}, projections.WithLogger(quietLogger()))
	p.FromStreams("order-1").WithQueryFilter(descending).When(count)
	if _, err := p.Run(context.Background(), false); !errors.Is(err, projections.ErrInvalidContext) {
		t.Fatalf("read model run: expected ErrInvalidContext, got %v", err)
	}
	if ok, _ := provider.ProjectionExists(context.Background(), "latest_first"); ok {
		t.Fatal("rejected run created a projection row")
	}
}
