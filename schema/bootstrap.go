package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/prism/internal/pg"
)

const (
	EventsTable      = "prism_events"
	ProjectionsTable = "prism_projections"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,54}$`)

// ValidateReadModelName checks that name is a valid read-model identifier
// (alphanumeric + underscores, max 55 characters, starts with a letter).
func ValidateReadModelName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid read model name %q: must be alphanumeric with underscores, max 55 chars", name)
	}
	return nil
}

// ReadModelTable returns the document table backing the named read model.
func ReadModelTable(name string) string {
	return "prism_rm_" + name
}

func readModelDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ReadModelTable(name))
}

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS prism_events (
	stream_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (stream_id, version)
)`
}

// locked_until holds a fixed-width UTC timestamp string so lock expiry can be
// compared lexically in the acquire query.
func projectionsDDL() string {
	return `CREATE TABLE IF NOT EXISTS prism_projections (
	name TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	positions JSONB NOT NULL DEFAULT '{}',
	state JSONB NOT NULL DEFAULT '{}',
	locked_until TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of Prism tables.
// It caches which tables have been created to avoid repeated DDL.
type Bootstrap struct {
	tables sync.Map
}

// New returns a Bootstrap with empty caches.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created in this session.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// MarkCreated records that the named table has been created.
func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

// InvalidateTable removes a table from the creation cache so the next Ensure
// call re-runs the DDL. Read models call it after dropping their table.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

func (b *Bootstrap) ensure(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// EnsureEvents creates the prism_events table if it doesn't exist.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	return b.ensure(ctx, exec, EventsTable, eventsDDL())
}

// EnsureProjections creates the prism_projections table if it doesn't exist.
func (b *Bootstrap) EnsureProjections(ctx context.Context, exec pg.Executor) error {
	return b.ensure(ctx, exec, ProjectionsTable, projectionsDDL())
}

// EnsureReadModel creates the document table for the named read model.
func (b *Bootstrap) EnsureReadModel(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateReadModelName(name); err != nil {
		return err
	}
	return b.ensure(ctx, exec, ReadModelTable(name), readModelDDL(name))
}
