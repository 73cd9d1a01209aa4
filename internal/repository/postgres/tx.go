package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
)

const (
	teamColumns = `id, name, description, lead_user_id, created_at, updated_at`
	userColumns = `id, first_name, last_name, email, role, created_at, updated_at`

	membershipColumns = `id, team_id, user_id, start_date, end_date, is_active, created_at, updated_at`

	selectTeamQuery = `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	selectUserQuery = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	listTeamsQuery  = `SELECT ` + teamColumns + ` FROM teams ORDER BY name`

	insertTeamQuery = `
        INSERT INTO teams (name, description) VALUES ($1, $2)
        RETURNING ` + teamColumns

	updateTeamQuery = `
        UPDATE teams
        SET name = COALESCE($2, name),
            description = COALESCE($3, description),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + teamColumns

	lockTeamQuery   = `SELECT id FROM teams WHERE id = $1 FOR UPDATE`
	deleteTeamQuery = `DELETE FROM teams WHERE id = $1`

	hasActiveMembersQuery = `SELECT EXISTS (SELECT 1 FROM team_members WHERE team_id = $1 AND is_active)`

	selectActiveMembershipQuery = `
        SELECT ` + membershipColumns + `
        FROM team_members
        WHERE user_id = $1 AND is_active = true
        FOR UPDATE
    `

	insertMembershipQuery = `
        INSERT INTO team_members (team_id, user_id, start_date, is_active)
        VALUES ($1, $2, $3, true)
        RETURNING ` + membershipColumns

	endMembershipQuery = `
        UPDATE team_members
        SET end_date = $3, is_active = false, updated_at = NOW()
        WHERE team_id = $1 AND user_id = $2 AND is_active = true
        RETURNING ` + membershipColumns

	lockHierarchyQuery = `LOCK TABLE team_hierarchy IN SHARE ROW EXCLUSIVE MODE`
	listEdgesQuery     = `SELECT parent_team_id, child_team_id, created_at FROM team_hierarchy`

	insertEdgeQuery = `
        INSERT INTO team_hierarchy (parent_team_id, child_team_id) VALUES ($1, $2)
        RETURNING parent_team_id, child_team_id, created_at
    `

	deleteEdgeQuery = `DELETE FROM team_hierarchy WHERE parent_team_id = $1 AND child_team_id = $2`
)

// pgTx реализация repository.Tx поверх pgx.Tx
type pgTx struct {
	q querier
}

var _ repository.Tx = (*pgTx)(nil)

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.LeadUserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	if err := row.Scan(&m.ID, &m.TeamID, &m.UserID, &m.StartDate, &m.EndDate, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// LockChangeRequest читает заявку с блокировкой FOR UPDATE
func (t *pgTx) LockChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(t.q.QueryRow(ctx, lockChangeRequestQuery, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock change request: %w", mapError(err))
	}
	return cr, nil
}

// DecideChangeRequest переводит заявку из pending в терминальный статус
func (t *pgTx) DecideChangeRequest(ctx context.Context, id uuid.UUID, status models.Status, approverID uuid.UUID, notes *string, at time.Time) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(t.q.QueryRow(ctx, decideChangeRequestQuery, id, status, approverID, at, notes))
	if err != nil {
		// Строка не обновилась: заявки нет или решение уже принято
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: change request %s is not pending", models.ErrInvalidState, id)
		}
		return nil, fmt.Errorf("failed to decide change request: %w", mapError(err))
	}
	return cr, nil
}

// GetTeam получает команду по ID
func (t *pgTx) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, err := scanTeam(t.q.QueryRow(ctx, selectTeamQuery, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get team %s: %w", id, mapError(err))
	}
	return team, nil
}

// GetUser получает пользователя по ID
func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(t.q.QueryRow(ctx, selectUserQuery, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, mapError(err))
	}
	return user, nil
}

// CreateTeam создает команду
func (t *pgTx) CreateTeam(ctx context.Context, name, description string) (*models.Team, error) {
	team, err := scanTeam(t.q.QueryRow(ctx, insertTeamQuery, name, description))
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", mapError(err))
	}
	return team, nil
}

// UpdateTeam обновляет только переданные (не nil) поля
func (t *pgTx) UpdateTeam(ctx context.Context, id uuid.UUID, name, description *string) (*models.Team, error) {
	team, err := scanTeam(t.q.QueryRow(ctx, updateTeamQuery, id, name, description))
	if err != nil {
		return nil, fmt.Errorf("failed to update team %s: %w", id, mapError(err))
	}
	return team, nil
}

// DeleteTeam удаляет команду. Строка команды блокируется до проверки активных
// участников: вставка участия ждёт блокировку через внешний ключ и после удаления
// получает нарушение ключа. Завершённые участия удаляются каскадом.
func (t *pgTx) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	if err := t.q.QueryRow(ctx, lockTeamQuery, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("team %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to lock team %s: %w", id, mapError(err))
	}

	var active bool
	if err := t.q.QueryRow(ctx, hasActiveMembersQuery, id).Scan(&active); err != nil {
		return fmt.Errorf("failed to check members of team %s: %w", id, err)
	}
	if active {
		return fmt.Errorf("failed to delete team %s: %w: team still has active members", id, models.ErrConflict)
	}

	tag, err := t.q.Exec(ctx, deleteTeamQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete team %s: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ActiveMembership возвращает активное участие пользователя, блокируя строку
func (t *pgTx) ActiveMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	m, err := scanMembership(t.q.QueryRow(ctx, selectActiveMembershipQuery, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get active membership: %w", mapError(err))
	}
	return m, nil
}

// InsertMembership добавляет активное участие. Частичный уникальный индекс
// team_members_one_active_per_user гарантирует одно активное участие на пользователя.
func (t *pgTx) InsertMembership(ctx context.Context, teamID, userID uuid.UUID, startDate time.Time) (*models.Membership, error) {
	m, err := scanMembership(t.q.QueryRow(ctx, insertMembershipQuery, teamID, userID, startDate))
	if err != nil {
		return nil, fmt.Errorf("failed to insert membership: %w", mapError(err))
	}
	return m, nil
}

// EndMembership закрывает активное участие пользователя в команде
func (t *pgTx) EndMembership(ctx context.Context, teamID, userID uuid.UUID, endDate time.Time) (*models.Membership, error) {
	m, err := scanMembership(t.q.QueryRow(ctx, endMembershipQuery, teamID, userID, endDate))
	if err != nil {
		return nil, fmt.Errorf("failed to end membership: %w", mapError(err))
	}
	return m, nil
}

// LockHierarchy блокирует таблицу иерархии от параллельных изменений
func (t *pgTx) LockHierarchy(ctx context.Context) error {
	if _, err := t.q.Exec(ctx, lockHierarchyQuery); err != nil {
		return fmt.Errorf("failed to lock hierarchy: %w", err)
	}
	return nil
}

// ListTeams возвращает все команды, отсортированные по имени
func (t *pgTx) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := t.q.Query(ctx, listTeamsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]models.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, *team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	return teams, nil
}

// ListEdges возвращает все связи иерархии
func (t *pgTx) ListEdges(ctx context.Context) ([]models.HierarchyEdge, error) {
	rows, err := t.q.Query(ctx, listEdgesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy edges: %w", err)
	}
	defer rows.Close()

	edges := make([]models.HierarchyEdge, 0)
	for rows.Next() {
		var e models.HierarchyEdge
		if err := rows.Scan(&e.ParentTeamID, &e.ChildTeamID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hierarchy edges: %w", err)
	}
	return edges, nil
}

// InsertEdge добавляет связь родитель -> потомок
func (t *pgTx) InsertEdge(ctx context.Context, parentID, childID uuid.UUID) (*models.HierarchyEdge, error) {
	var e models.HierarchyEdge
	err := t.q.QueryRow(ctx, insertEdgeQuery, parentID, childID).Scan(&e.ParentTeamID, &e.ChildTeamID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert hierarchy edge: %w", mapError(err))
	}
	return &e, nil
}

// DeleteEdge удаляет связь родитель -> потомок
func (t *pgTx) DeleteEdge(ctx context.Context, parentID, childID uuid.UUID) error {
	tag, err := t.q.Exec(ctx, deleteEdgeQuery, parentID, childID)
	if err != nil {
		return fmt.Errorf("failed to delete hierarchy edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hierarchy relationship: %w", models.ErrNotFound)
	}
	return nil
}
