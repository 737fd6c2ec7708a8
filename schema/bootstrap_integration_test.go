//go:build integration

package schema

import (
	"context"
	"testing"

	"github.com/ripkitten-co/prism/internal/pg"
	"github.com/ripkitten-co/prism/internal/testutil"
)

func setupSchemaTest(t *testing.T) (pg.Executor, context.Context) {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool, ctx
}

func TestEnsureProjections(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureProjections(ctx, exec); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !b.IsCreated(ProjectionsTable) {
		t.Fatal("table should be cached after creation")
	}

	// second call hits the cache path
	if err := b.EnsureProjections(ctx, exec); err != nil {
		t.Fatalf("cached call: %v", err)
	}

	_, err := exec.Exec(ctx,
		`INSERT INTO prism_projections (name, status) VALUES ($1, $2)`,
		"balances", "idle",
	)
	if err != nil {
		t.Fatalf("insert projection row: %v", err)
	}

	var positions string
	if err := exec.QueryRow(ctx,
		`SELECT positions::text FROM prism_projections WHERE name = $1`, "balances",
	).Scan(&positions); err != nil {
		t.Fatalf("read projection row: %v", err)
	}
	if positions != "{}" {
		t.Errorf("default positions: got %s, want {}", positions)
	}
}

func TestEnsureEvents(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureEvents(ctx, exec); err != nil {
		t.Fatalf("ensure events: %v", err)
	}

	_, err := exec.Exec(ctx,
		`INSERT INTO prism_events (stream_id, version, type, data) VALUES ($1, 1, 'Opened', '{}')`,
		"account-1",
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	_, err = exec.Exec(ctx,
		`INSERT INTO prism_events (stream_id, version, type, data) VALUES ($1, 1, 'Opened', '{}')`,
		"account-1",
	)
	if err == nil {
		t.Fatal("expected primary key violation for duplicate stream version")
	}
}

func TestEnsureReadModel_RejectsInvalidName(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureReadModel(ctx, exec, "bad-name"); err == nil {
		t.Fatal("expected validation error")
	}
	if err := b.EnsureReadModel(ctx, exec, "balances"); err != nil {
		t.Fatalf("ensure read model: %v", err)
	}
	if !b.IsCreated(ReadModelTable("balances")) {
		t.Error("read model table should be cached")
	}
}
