package readmodels

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/prism"
	"github.com/ripkitten-co/prism/projections"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type gormOp[T any] struct {
	model  *T
	delete bool
}

// GormTable is a read model stored in a table managed by gorm migrations.
type GormTable[T any] struct {
	db      *gorm.DB
	pending []gormOp[T]
}

var _ projections.ReadModel = (*GormTable[struct{}])(nil)

// NewGormTable opens a gorm database over the store's pool.
func NewGormTable[T any](store *prism.Store) (*GormTable[T], error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDBFromPool(store.PgxPool()),
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("readmodels: open gorm: %w", err)
	}
	return &GormTable[T]{db: db}, nil
}

// DB returns the gorm database for queries against the committed rows.
func (g *GormTable[T]) DB() *gorm.DB { return g.db }

func (g *GormTable[T]) Upsert(model *T) {
	g.pending = append(g.pending, gormOp[T]{model: model})
}

func (g *GormTable[T]) Delete(model *T) {
	g.pending = append(g.pending, gormOp[T]{model: model, delete: true})
}

func (g *GormTable[T]) Pending() int { return len(g.pending) }

func (g *GormTable[T]) Initialize(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(new(T)); err != nil {
		return fmt.Errorf("readmodels: gorm initialize: %w", err)
	}
	return nil
}

func (g *GormTable[T]) IsInitialized(ctx context.Context) (bool, error) {
	return g.db.WithContext(ctx).Migrator().HasTable(new(T)), nil
}

// Persist applies the staged writes in one transaction.
func (g *GormTable[T]) Persist(ctx context.Context) error {
	if len(g.pending) == 0 {
		return nil
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range g.pending {
			if op.delete {
				if err := tx.Delete(op.model).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(op.model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("readmodels: gorm persist: %w", err)
	}
	g.pending = g.pending[:0]
	return nil
}

func (g *GormTable[T]) Reset(ctx context.Context) error {
	g.pending = nil
	err := g.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(new(T)).Error
	if err != nil {
		return fmt.Errorf("readmodels: gorm reset: %w", err)
	}
	return nil
}

func (g *GormTable[T]) Down(ctx context.Context) error {
	g.pending = nil
	if err := g.db.WithContext(ctx).Migrator().DropTable(new(T)); err != nil {
		return fmt.Errorf("readmodels: gorm down: %w", err)
	}
	return nil
}
