package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/untibullet/teamhub/internal/models"
)

const (
	changeRequestColumns = `id, request_type, requester_id, team_id, user_id, details, status,
        approved_by, approved_at, notes, created_at, updated_at`

	insertChangeRequestQuery = `
        INSERT INTO change_requests (request_type, requester_id, team_id, user_id, details)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING ` + changeRequestColumns

	selectChangeRequestQuery = `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE id = $1`

	lockChangeRequestQuery = selectChangeRequestQuery + ` FOR UPDATE`

	listChangeRequestsQuery = `
        SELECT ` + changeRequestColumns + `
        FROM change_requests
        WHERE ($1::varchar IS NULL OR status = $1)
        ORDER BY created_at DESC, id
        LIMIT $2
    `

	countChangeRequestsQuery = `SELECT COUNT(*) FROM change_requests WHERE status = $1`

	decideChangeRequestQuery = `
        UPDATE change_requests
        SET status = $2, approved_by = $3, approved_at = $4, notes = COALESCE($5, notes), updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
        RETURNING ` + changeRequestColumns
)

// defaultListLimit ограничение выдачи списка, если вызывающий не указал своё
const defaultListLimit = 1000

func scanChangeRequest(row pgx.Row) (*models.ChangeRequest, error) {
	var cr models.ChangeRequest
	var details []byte
	err := row.Scan(
		&cr.ID, &cr.RequestType, &cr.RequesterID, &cr.TeamID, &cr.UserID, &details, &cr.Status,
		&cr.ApproverID, &cr.ApprovedAt, &cr.Notes, &cr.CreatedAt, &cr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cr.Details = json.RawMessage(details)
	return &cr, nil
}

// CreateChangeRequest сохраняет новую заявку в статусе pending
func (r *Repository) CreateChangeRequest(ctx context.Context, cr models.ChangeRequest) (*models.ChangeRequest, error) {
	details := cr.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	created, err := scanChangeRequest(r.pool.QueryRow(ctx, insertChangeRequestQuery,
		cr.RequestType, cr.RequesterID, cr.TeamID, cr.UserID, details,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create change request: %w", mapError(err))
	}
	return created, nil
}

// GetChangeRequest получает заявку по ID
func (r *Repository) GetChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(r.pool.QueryRow(ctx, selectChangeRequestQuery, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get change request: %w", mapError(err))
	}
	return cr, nil
}

// ListChangeRequests возвращает заявки, новые первыми
func (r *Repository) ListChangeRequests(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.pool.Query(ctx, listChangeRequestsQuery, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	defer rows.Close()

	requests := make([]models.ChangeRequest, 0)
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change request: %w", err)
		}
		requests = append(requests, *cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change requests: %w", err)
	}
	return requests, nil
}

// CountChangeRequests считает заявки в указанном статусе
func (r *Repository) CountChangeRequests(ctx context.Context, status models.Status) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, countChangeRequestsQuery, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count change requests: %w", err)
	}
	return count, nil
}
