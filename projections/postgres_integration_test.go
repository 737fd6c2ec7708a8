//go:build integration

package projections_test

import (
	"context"
	"testing"
	"time"

	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/internal/testutil"
	"github.com/ripkitten-co/prism/projections"
)

func setupStore(t *testing.T) *prism.Store {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	store, err := prism.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresProvider_Rows(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := projections.NewPostgresProvider(store)

	ok, err := p.CreateProjection(ctx, "orders", projections.StatusIdle)
	if err != nil || !ok {
		t.Fatalf("create: ok=%v err=%v", ok, err)
	}
	if ok, err := p.CreateProjection(ctx, "orders", projections.StatusIdle); err != nil || ok {
		t.Fatalf("second create: ok=%v err=%v", ok, err)
	}

	rec, found, err := p.RetrieveProjection(ctx, "orders")
	if err != nil || !found {
		t.Fatalf("retrieve: found=%v err=%v", found, err)
	}
	if rec.Status != projections.StatusIdle || rec.LockedUntil != "" {
		t.Fatalf("new row: %+v", rec)
	}

	running := projections.StatusRunning
	ok, err = p.UpdateProjection(ctx, "orders", projections.Update{
		Status:    &running,
		Positions: []byte(`{"order-1":4}`),
		State:     []byte(`{"count":4}`),
	})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	rec, _, err = p.RetrieveProjection(ctx, "orders")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if rec.Status != projections.StatusRunning {
		t.Errorf("status: got %s", rec.Status)
	}
	if string(rec.Positions) != `{"order-1": 4}` && string(rec.Positions) != `{"order-1":4}` {
		t.Errorf("positions: got %s", rec.Positions)
	}

	if ok, err := p.UpdateProjection(ctx, "missing", projections.Update{Status: &running}); err != nil || ok {
		t.Fatalf("update missing: ok=%v err=%v", ok, err)
	}

	found2, err := p.FilterByNames(ctx, "orders", "missing")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(found2) != 1 || found2[0] != "orders" {
		t.Fatalf("filter: got %v", found2)
	}

	if ok, err := p.DeleteProjection(ctx, "orders"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	exists, err := p.ProjectionExists(ctx, "orders")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("row survived delete")
	}
}

func TestPostgresProvider_AcquireLock(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	p := projections.NewPostgresProvider(store)

	if _, err := p.CreateProjection(ctx, "orders", projections.StatusIdle); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token := projections.FormatLockToken(now.Add(time.Second))

	ok, err := p.AcquireLock(ctx, "orders", projections.StatusRunning, token, projections.FormatLockToken(now))
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = p.AcquireLock(ctx, "orders", projections.StatusRunning, token, projections.FormatLockToken(now.Add(500*time.Millisecond)))
	if err != nil || ok {
		t.Fatalf("acquire while held: ok=%v err=%v", ok, err)
	}
	ok, err = p.AcquireLock(ctx, "orders", projections.StatusRunning, token, projections.FormatLockToken(now.Add(2*time.Second)))
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}

	owner := projections.FormatLockToken(now.Add(3 * time.Second))
	if ok, err := p.AcquireLock(ctx, "orders", projections.StatusRunning, owner, projections.FormatLockToken(now.Add(2*time.Second+time.Millisecond))); err != nil || !ok {
		t.Fatalf("take over: ok=%v err=%v", ok, err)
	}
	ok, err = p.UpdateProjection(ctx, "orders", projections.Update{Positions: []byte(`{"order-1":1}`), HeldLock: token})
	if err != nil || ok {
		t.Fatalf("update with a stale lock: ok=%v err=%v", ok, err)
	}
	ok, err = p.UpdateProjection(ctx, "orders", projections.Update{Positions: []byte(`{"order-1":2}`), HeldLock: owner})
	if err != nil || !ok {
		t.Fatalf("update with the held lock: ok=%v err=%v", ok, err)
	}

	if _, err := p.UpdateProjection(ctx, "orders", projections.Update{ClearLock: true}); err != nil {
		t.Fatalf("clear lock: %v", err)
	}
	rec, _, err := p.RetrieveProjection(ctx, "orders")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if rec.LockedUntil != "" {
		t.Fatalf("locked until after clear: %q", rec.LockedUntil)
	}
}
