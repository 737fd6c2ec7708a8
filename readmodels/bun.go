package readmodels

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/projections"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

type bunOp[T any] struct {
	model  *T
	delete bool
}

// BunTable is a read model stored in a plain table mapped by a bun model.
// T must be a bun model struct with a primary key.
type BunTable[T any] struct {
	db      *bun.DB
	backend prism.Backend
	table   string
	pks     []string
	pending []bunOp[T]
}

var _ projections.ReadModel = (*BunTable[struct{}])(nil)

// NewBunTable opens a bun database over the store's pool.
func NewBunTable[T any](store *prism.Store) *BunTable[T] {
	db := bun.NewDB(stdlib.OpenDBFromPool(store.PgxPool()), pgdialect.New())

	meta := db.Table(reflect.TypeFor[T]())
	pks := make([]string, 0, len(meta.PKs))
	for _, f := range meta.PKs {
		pks = append(pks, f.Name)
	}

	return &BunTable[T]{
		db:      db,
		backend: store,
		table:   meta.Name,
		pks:     pks,
	}
}

// DB returns the bun database for queries against the committed rows.
func (b *BunTable[T]) DB() *bun.DB { return b.db }

// Upsert stages model until the next Persist.
func (b *BunTable[T]) Upsert(model *T) {
	b.pending = append(b.pending, bunOp[T]{model: model})
}

// Delete stages the removal of the row with model's primary key.
func (b *BunTable[T]) Delete(model *T) {
	b.pending = append(b.pending, bunOp[T]{model: model, delete: true})
}

func (b *BunTable[T]) Pending() int { return len(b.pending) }

func (b *BunTable[T]) Initialize(ctx context.Context) error {
	if _, err := b.db.NewCreateTable().Model((*T)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("readmodels: %s initialize: %w", b.table, err)
	}
	return nil
}

func (b *BunTable[T]) IsInitialized(ctx context.Context) (bool, error) {
	return tableExists(ctx, b.backend, b.table)
}

// Persist applies the staged writes in one transaction. Upserts replace every
// column on primary key conflicts.
func (b *BunTable[T]) Persist(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	conflict := "CONFLICT (" + strings.Join(b.pks, ", ") + ") DO UPDATE"
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, op := range b.pending {
			var err error
			if op.delete {
				_, err = tx.NewDelete().Model(op.model).WherePK().Exec(ctx)
			} else {
				_, err = tx.NewInsert().Model(op.model).On(conflict).Exec(ctx)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("readmodels: %s persist: %w", b.table, err)
	}
	b.pending = b.pending[:0]
	return nil
}

func (b *BunTable[T]) Reset(ctx context.Context) error {
	b.pending = nil
	if _, err := b.db.NewTruncateTable().Model((*T)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("readmodels: %s reset: %w", b.table, err)
	}
	return nil
}

func (b *BunTable[T]) Down(ctx context.Context) error {
	b.pending = nil
	if _, err := b.db.NewDropTable().Model((*T)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("readmodels: %s down: %w", b.table, err)
	}
	return nil
}
