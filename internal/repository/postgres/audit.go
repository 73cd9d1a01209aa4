package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/untibullet/teamhub/internal/models"
)

const (
	listAuditQuery = `
        SELECT id, table_name, record_id, action, old_values, new_values, patch, user_id, summary, timestamp
        FROM audit_log
        WHERE ($1::varchar IS NULL OR table_name = $1)
          AND ($2::varchar IS NULL OR record_id = $2)
          AND ($3::uuid IS NULL OR user_id = $3)
          AND ($4::timestamptz IS NULL OR timestamp >= $4)
          AND ($5::timestamptz IS NULL OR timestamp <= $5)
        ORDER BY timestamp DESC, id DESC
        LIMIT $6
    `

	auditSummaryQuery = `
        SELECT table_name, action, COUNT(*), MIN(timestamp), MAX(timestamp)
        FROM audit_log
        GROUP BY table_name, action
        ORDER BY table_name, action
    `
)

// InsertAudit массово добавляет записи в журнал аудита через COPY
func (r *Repository) InsertAudit(ctx context.Context, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = now
		}
		rows = append(rows, []any{
			e.TableName, e.RecordID, e.Action, e.OldValues, e.NewValues, e.Patch, e.UserID, e.Summary, ts,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"audit_log"},
		[]string{"table_name", "record_id", "action", "old_values", "new_values", "patch", "user_id", "summary", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy audit entries: %w", mapError(err))
	}
	return nil
}

// ListAudit возвращает записи журнала по фильтру, новые первыми
func (r *Repository) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx, listAuditQuery,
		nullString(filter.TableName), nullString(filter.RecordID), filter.UserID, filter.From, filter.To, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		var oldValues, newValues, patch []byte
		err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &oldValues, &newValues, &patch, &e.UserID, &e.Summary, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.OldValues, e.NewValues, e.Patch = oldValues, newValues, patch
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}

// AuditSummary агрегирует журнал по таблице и действию
func (r *Repository) AuditSummary(ctx context.Context) ([]models.AuditSummaryRow, error) {
	rows, err := r.pool.Query(ctx, auditSummaryQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize audit log: %w", err)
	}
	defer rows.Close()

	summary := make([]models.AuditSummaryRow, 0)
	for rows.Next() {
		var s models.AuditSummaryRow
		if err := rows.Scan(&s.TableName, &s.Action, &s.Count, &s.FirstAction, &s.LastAction); err != nil {
			return nil, fmt.Errorf("failed to scan audit summary: %w", err)
		}
		summary = append(summary, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit summary: %w", err)
	}
	return summary, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
