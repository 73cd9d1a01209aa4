// Package migrate применяет встроенные миграции схемы через goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	schema "github.com/untibullet/teamhub/db"
	"go.uber.org/zap"
)

const runTimeout = time.Minute

// Runner применяет и откатывает миграции поверх пула pgx
type Runner struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// MigrationState состояние одной миграции
type MigrationState struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func New(pool *pgxpool.Pool, logger *zap.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	return &Runner{pool: pool, logger: logger.Named("migrate")}, nil
}

// Up применяет все недостающие миграции
func (r *Runner) Up(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.logger.Info("migration applied",
				zap.Int64("version", res.Source.Version),
				zap.String("path", res.Source.Path),
				zap.Duration("duration", res.Duration))
		}
		r.logger.Info("migrations up to date", zap.Int("applied", len(results)))
		return nil
	})
}

// Down откатывает последнюю миграцию или все миграции выше targetVersion
func (r *Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion > 0 {
			results, err := p.DownTo(ctx, targetVersion)
			if err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			r.logger.Info("migrations rolled back",
				zap.Int64("target", targetVersion),
				zap.Int("count", len(results)))
			return nil
		}

		res, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		r.logger.Info("migration rolled back",
			zap.Int64("version", res.Source.Version),
			zap.String("path", res.Source.Path))
		return nil
	})
}

// Status возвращает состояние всех известных миграций
func (r *Runner) Status(ctx context.Context) ([]MigrationState, error) {
	var states []MigrationState
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, s := range statuses {
			states = append(states, MigrationState{
				Version:   s.Source.Version,
				Path:      s.Source.Path,
				Applied:   s.State == goose.StateApplied,
				AppliedAt: s.AppliedAt,
			})
		}
		return nil
	})
	return states, err
}

func (r *Runner) withProvider(ctx context.Context, fn func(ctx context.Context, p *goose.Provider) error) error {
	fsys, err := fs.Sub(schema.Migrations, schema.MigrationsDir)
	if err != nil {
		return fmt.Errorf("locate migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(r.pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			r.logger.Warn("failed to close migration connection", zap.Error(err))
		}
	}(db)

	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	return fn(runCtx, p)
}
