// Package readmodels provides read models for read-model projections. Each
// stages the writes reactors make and applies them in one transaction when
// the projection checkpoints.
package readmodels

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/internal/codecs"
	"github.com/ripkitten-co/prism/projections"
	"github.com/ripkitten-co/prism/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type docOp struct {
	id     string
	data   []byte
	delete bool
}

// Documents is a read model of JSON documents keyed by id, stored in the
// prism_rm_<name> table.
type Documents[T any] struct {
	name    string
	table   string
	pool    *pgxpool.Pool
	backend prism.Backend
	codec   codecs.Codec
	pending []docOp
}

var _ projections.ReadModel = (*Documents[struct{}])(nil)

// NewDocuments creates the read model named name. The name must be a valid
// read-model identifier.
func NewDocuments[T any](store *prism.Store, name string) (*Documents[T], error) {
	if err := schema.ValidateReadModelName(name); err != nil {
		return nil, fmt.Errorf("readmodels: %w", err)
	}
	return &Documents[T]{
		name:    name,
		table:   schema.ReadModelTable(name),
		pool:    store.PgxPool(),
		backend: store,
		codec:   store.JSONCodec(),
	}, nil
}

// Upsert stages doc under id until the next Persist.
func (d *Documents[T]) Upsert(id string, doc T) error {
	data, err := d.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("readmodels: %s upsert %s: marshal: %w", d.name, id, err)
	}
	d.pending = append(d.pending, docOp{id: id, data: data})
	return nil
}

// Delete stages the removal of id until the next Persist.
func (d *Documents[T]) Delete(id string) {
	d.pending = append(d.pending, docOp{id: id, delete: true})
}

// Pending returns the number of staged writes.
func (d *Documents[T]) Pending() int { return len(d.pending) }

// Load returns the persisted document. Staged writes are not visible.
func (d *Documents[T]) Load(ctx context.Context, id string) (T, error) {
	var doc T
	sql, args, err := psql.Select("data").From(d.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return doc, fmt.Errorf("readmodels: %s load %s: build sql: %w", d.name, id, err)
	}

	var data []byte
	err = d.backend.DBExecutor().QueryRow(ctx, sql, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, fmt.Errorf("readmodels: %s load %s: %w", d.name, id, prism.ErrNotFound)
	}
	if err != nil {
		return doc, fmt.Errorf("readmodels: %s load %s: %w", d.name, id, err)
	}
	if err := d.codec.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("readmodels: %s load %s: unmarshal: %w", d.name, id, err)
	}
	return doc, nil
}

// Version returns how many times the document was written.
func (d *Documents[T]) Version(ctx context.Context, id string) (int, error) {
	var version int
	err := d.backend.DBExecutor().QueryRow(ctx,
		fmt.Sprintf(`SELECT version FROM %s WHERE id = $1`, d.table), id,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("readmodels: %s version %s: %w", d.name, id, prism.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("readmodels: %s version %s: %w", d.name, id, err)
	}
	return version, nil
}

func (d *Documents[T]) Initialize(ctx context.Context) error {
	return d.backend.SchemaBootstrap().EnsureReadModel(ctx, d.backend.DBExecutor(), d.name)
}

func (d *Documents[T]) IsInitialized(ctx context.Context) (bool, error) {
	return tableExists(ctx, d.backend, d.table)
}

// Persist applies the staged writes in one transaction. The stored version
// of a document is incremented on every upsert.
func (d *Documents[T]) Persist(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		for _, op := range d.pending {
			var builder sq.Sqlizer
			if op.delete {
				builder = psql.Delete(d.table).Where(sq.Eq{"id": op.id})
			} else {
				builder = psql.Insert(d.table).
					Columns("id", "data").
					Values(op.id, op.data).
					Suffix("ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = " +
						d.table + ".version + 1, updated_at = now()")
			}
			sql, args, err := builder.ToSql()
			if err != nil {
				return fmt.Errorf("build sql: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("%s: %w", op.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("readmodels: %s persist: %w", d.name, err)
	}
	d.pending = d.pending[:0]
	return nil
}

// Reset removes every document and drops the staged writes.
func (d *Documents[T]) Reset(ctx context.Context) error {
	d.pending = nil
	if err := d.Initialize(ctx); err != nil {
		return err
	}
	if _, err := d.backend.DBExecutor().Exec(ctx, "TRUNCATE TABLE "+d.table); err != nil {
		return fmt.Errorf("readmodels: %s reset: %w", d.name, err)
	}
	return nil
}

// Down drops the table.
func (d *Documents[T]) Down(ctx context.Context) error {
	d.pending = nil
	if _, err := d.backend.DBExecutor().Exec(ctx, "DROP TABLE IF EXISTS "+d.table); err != nil {
		return fmt.Errorf("readmodels: %s down: %w", d.name, err)
	}
	d.backend.SchemaBootstrap().InvalidateTable(d.table)
	return nil
}

func tableExists(ctx context.Context, b prism.Backend, table string) (bool, error) {
	var exists bool
	err := b.DBExecutor().QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("readmodels: table %s exists: %w", table, err)
	}
	return exists, nil
}
