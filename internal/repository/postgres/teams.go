package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/untibullet/teamhub/internal/models"
)

const (
	listTeamSummariesQuery = `
        SELECT t.id, t.name, t.description, t.lead_user_id, t.created_at, t.updated_at,
               COUNT(tm.id) FILTER (WHERE tm.is_active) AS member_count
        FROM teams t
        LEFT JOIN team_members tm ON tm.team_id = t.id
        GROUP BY t.id
        ORDER BY t.name
    `

	memberViewColumns = `
        tm.id, tm.team_id, tm.user_id, tm.start_date, tm.end_date, tm.is_active, tm.created_at, tm.updated_at,
        u.first_name, u.last_name, u.email, u.role, t.name`

	listTeamMembersQuery = `
        SELECT ` + memberViewColumns + `
        FROM team_members tm
        JOIN users u ON u.id = tm.user_id
        JOIN teams t ON t.id = tm.team_id
        WHERE tm.team_id = $1 AND tm.is_active = true
        ORDER BY u.last_name, u.first_name
    `

	listUserMembershipsQuery = `
        SELECT ` + memberViewColumns + `
        FROM team_members tm
        JOIN users u ON u.id = tm.user_id
        JOIN teams t ON t.id = tm.team_id
        WHERE tm.user_id = $1
        ORDER BY tm.start_date DESC, tm.created_at DESC
    `
)

// ListTeamSummaries возвращает все команды с количеством активных участников
func (r *Repository) ListTeamSummaries(ctx context.Context) ([]models.TeamSummary, error) {
	rows, err := r.pool.Query(ctx, listTeamSummariesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]models.TeamSummary, 0)
	for rows.Next() {
		var s models.TeamSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.LeadUserID, &s.CreatedAt, &s.UpdatedAt, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	return teams, nil
}

// GetTeam получает команду по ID
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	return (&pgTx{q: r.pool}).GetTeam(ctx, id)
}

// GetUser получает пользователя по ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return (&pgTx{q: r.pool}).GetUser(ctx, id)
}

// ListTeamMembers возвращает активных участников команды
func (r *Repository) ListTeamMembers(ctx context.Context, teamID uuid.UUID) ([]models.MemberView, error) {
	rows, err := r.pool.Query(ctx, listTeamMembersQuery, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return collectMemberViews(rows)
}

// ListUserMemberships возвращает историю участий пользователя, новые первыми
func (r *Repository) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]models.MemberView, error) {
	rows, err := r.pool.Query(ctx, listUserMembershipsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memberships: %w", err)
	}
	return collectMemberViews(rows)
}

func collectMemberViews(rows pgx.Rows) ([]models.MemberView, error) {
	defer rows.Close()

	members := make([]models.MemberView, 0)
	for rows.Next() {
		var m models.MemberView
		err := rows.Scan(
			&m.ID, &m.TeamID, &m.UserID, &m.StartDate, &m.EndDate, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
			&m.FirstName, &m.LastName, &m.Email, &m.Role, &m.TeamName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return members, nil
}
