package projections

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/internal/pg"
	"github.com/ripkitten-co/prism/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresProvider stores projection rows in the prism_projections table.
type PostgresProvider struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

// NewPostgresProvider creates a provider backed by the given prism backend.
func NewPostgresProvider(b prism.Backend) *PostgresProvider {
	return &PostgresProvider{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (p *PostgresProvider) ensure(ctx context.Context) error {
	return p.schema.EnsureProjections(ctx, p.exec)
}

func (p *PostgresProvider) CreateProjection(ctx context.Context, name string, status Status) (bool, error) {
	builder := psql.Insert(schema.ProjectionsTable).
		Columns("name", "status").
		Values(name, string(status)).
		Suffix("ON CONFLICT (name) DO NOTHING")
	return p.exec1(ctx, "create", name, builder)
}

func (p *PostgresProvider) UpdateProjection(ctx context.Context, name string, u Update) (bool, error) {
	set := map[string]any{"updated_at": sq.Expr("now()")}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.Positions != nil {
		set["positions"] = u.Positions
	}
	if u.State != nil {
		set["state"] = u.State
	}
	switch {
	case u.ClearLock:
		set["locked_until"] = nil
	case u.LockedUntil != nil:
		set["locked_until"] = *u.LockedUntil
	}

	builder := psql.Update(schema.ProjectionsTable).
		SetMap(set).
		Where(sq.Eq{"name": name})
	if u.HeldLock != "" {
		builder = builder.Where(sq.Eq{"locked_until": u.HeldLock})
	}
	return p.exec1(ctx, "update", name, builder)
}

// RetrieveProjection returns the row for name; found is false when it does
// not exist.
func (p *PostgresProvider) RetrieveProjection(ctx context.Context, name string) (Record, bool, error) {
	if err := p.ensure(ctx); err != nil {
		return Record{}, false, fmt.Errorf("projections: retrieve %s: ensure table: %w", name, err)
	}

	sql, args, err := psql.
		Select("name", "status", "positions", "state", "locked_until").
		From(schema.ProjectionsTable).
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return Record{}, false, fmt.Errorf("projections: retrieve %s: build sql: %w", name, err)
	}

	var (
		rec         Record
		status      string
		lockedUntil *string
	)
	err = p.exec.QueryRow(ctx, sql, args...).Scan(&rec.Name, &status, &rec.Positions, &rec.State, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("projections: retrieve %s: %w", name, err)
	}
	rec.Status = Status(status)
	if lockedUntil != nil {
		rec.LockedUntil = *lockedUntil
	}
	return rec, true, nil
}

func (p *PostgresProvider) DeleteProjection(ctx context.Context, name string) (bool, error) {
	builder := psql.Delete(schema.ProjectionsTable).Where(sq.Eq{"name": name})
	return p.exec1(ctx, "delete", name, builder)
}

func (p *PostgresProvider) AcquireLock(ctx context.Context, name string, status Status, lockedUntil, now string) (bool, error) {
	builder := psql.Update(schema.ProjectionsTable).
		Set("status", string(status)).
		Set("locked_until", lockedUntil).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"name": name}).
		Where(sq.Or{sq.Eq{"locked_until": nil}, sq.Lt{"locked_until": now}})
	return p.exec1(ctx, "acquire lock", name, builder)
}

// FilterByNames returns the subset of names that exist, in ascending order.
func (p *PostgresProvider) FilterByNames(ctx context.Context, names ...string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if err := p.ensure(ctx); err != nil {
		return nil, fmt.Errorf("projections: filter names: ensure table: %w", err)
	}

	sql, args, err := psql.Select("name").
		From(schema.ProjectionsTable).
		Where(sq.Eq{"name": names}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("projections: filter names: build sql: %w", err)
	}

	rows, err := p.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("projections: filter names: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("projections: filter names: %w", err)
	}
	return found, nil
}

func (p *PostgresProvider) ProjectionExists(ctx context.Context, name string) (bool, error) {
	if err := p.ensure(ctx); err != nil {
		return false, fmt.Errorf("projections: exists %s: ensure table: %w", name, err)
	}

	sql, args, err := psql.Select("1").
		Prefix("SELECT EXISTS (").
		From(schema.ProjectionsTable).
		Where(sq.Eq{"name": name}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("projections: exists %s: build sql: %w", name, err)
	}

	var exists bool
	if err := p.exec.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("projections: exists %s: %w", name, err)
	}
	return exists, nil
}

// exec1 runs a mutation and reports whether it touched a row.
func (p *PostgresProvider) exec1(ctx context.Context, op, name string, builder sq.Sqlizer) (bool, error) {
	if err := p.ensure(ctx); err != nil {
		return false, fmt.Errorf("projections: %s %s: ensure table: %w", op, name, err)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("projections: %s %s: build sql: %w", op, name, err)
	}

	tag, err := p.exec.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("projections: %s %s: %w", op, name, err)
	}
	return tag.RowsAffected() > 0, nil
}
