// Package postgres реализует хранилище поверх PostgreSQL через пул pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
)

// Коды ошибок PostgreSQL, которые сопоставляются с ошибками предметной области
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// querier общий набор методов пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

var _ repository.Repository = (*Repository)(nil)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping проверяет соединение с базой
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений
func (r *Repository) Close() {
	r.pool.Close()
}

// InTx запускает fn в транзакции с уровнем изоляции READ COMMITTED.
// Блокировки строк берутся явно внутри fn (SELECT ... FOR UPDATE, LOCK TABLE).
func (r *Repository) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError переводит нарушения ограничений в ошибки предметной области
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, constraintMessage(pgErr))
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, constraintMessage(pgErr))
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", models.ErrValidation, constraintMessage(pgErr))
		}
	}
	return err
}

func constraintMessage(pgErr *pgconn.PgError) string {
	switch pgErr.ConstraintName {
	case "team_members_one_active_per_user":
		return "user already has an active membership"
	case "teams_name_key":
		return "team name already exists"
	case "team_hierarchy_parent_child_key":
		return "hierarchy relationship already exists"
	case "team_members_team_id_fkey":
		return "team does not exist"
	}
	if pgErr.ConstraintName != "" {
		return "constraint " + pgErr.ConstraintName + " violated"
	}
	return pgErr.Message
}
