package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
)

// memTx работает над копией состояния, принадлежащей одной транзакции
type memTx struct {
	st  *state
	now func() time.Time
}

var _ repository.Tx = (*memTx)(nil)

func (t *memTx) LockChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	i := t.st.requestIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("failed to lock change request: %w", models.ErrNotFound)
	}
	cr := t.st.requests[i]
	return &cr, nil
}

func (t *memTx) DecideChangeRequest(ctx context.Context, id uuid.UUID, status models.Status, approverID uuid.UUID, notes *string, at time.Time) (*models.ChangeRequest, error) {
	i := t.st.requestIndex(id)
	if i < 0 || !t.st.requests[i].Pending() {
		return nil, fmt.Errorf("%w: change request %s is not pending", models.ErrInvalidState, id)
	}

	cr := t.st.requests[i]
	cr.Status = status
	cr.ApproverID = &approverID
	cr.ApprovedAt = &at
	if notes != nil {
		cr.Notes = notes
	}
	cr.UpdatedAt = t.now()
	t.st.requests[i] = cr
	return &cr, nil
}

func (t *memTx) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	team, ok := t.st.teams[id]
	if !ok {
		return nil, fmt.Errorf("failed to get team %s: %w", id, models.ErrNotFound)
	}
	return &team, nil
}

func (t *memTx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := t.st.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user %s: %w", id, models.ErrNotFound)
	}
	return &user, nil
}

func (t *memTx) teamNameTaken(name string, except uuid.UUID) bool {
	for id, team := range t.st.teams {
		if id != except && team.Name == name {
			return true
		}
	}
	return false
}

func (t *memTx) CreateTeam(ctx context.Context, name, description string) (*models.Team, error) {
	if t.teamNameTaken(name, uuid.Nil) {
		return nil, fmt.Errorf("failed to create team: %w: team name already exists", models.ErrConflict)
	}
	now := t.now()
	team := models.Team{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.st.teams[team.ID] = team
	return &team, nil
}

func (t *memTx) UpdateTeam(ctx context.Context, id uuid.UUID, name, description *string) (*models.Team, error) {
	team, ok := t.st.teams[id]
	if !ok {
		return nil, fmt.Errorf("failed to update team %s: %w", id, models.ErrNotFound)
	}
	if name != nil {
		if t.teamNameTaken(*name, id) {
			return nil, fmt.Errorf("failed to update team %s: %w: team name already exists", id, models.ErrConflict)
		}
		team.Name = *name
	}
	if description != nil {
		team.Description = *description
	}
	team.UpdatedAt = t.now()
	t.st.teams[id] = team
	return &team, nil
}

func (t *memTx) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.st.teams[id]; !ok {
		return fmt.Errorf("team %s: %w", id, models.ErrNotFound)
	}
	for _, m := range t.st.memberships {
		if m.TeamID == id && m.IsActive {
			return fmt.Errorf("failed to delete team %s: %w: team still has active members", id, models.ErrConflict)
		}
	}

	delete(t.st.teams, id)

	// ON DELETE CASCADE для завершённых участий и связей иерархии
	memberships := t.st.memberships[:0:0]
	for _, m := range t.st.memberships {
		if m.TeamID != id {
			memberships = append(memberships, m)
		}
	}
	t.st.memberships = memberships

	edges := t.st.edges[:0:0]
	for _, e := range t.st.edges {
		if e.ParentTeamID != id && e.ChildTeamID != id {
			edges = append(edges, e)
		}
	}
	t.st.edges = edges

	// Заявки сохраняют team_id удалённой команды
	return nil
}

func (t *memTx) ActiveMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error) {
	for _, m := range t.st.memberships {
		if m.UserID == userID && m.IsActive {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("failed to get active membership: %w", models.ErrNotFound)
}

func (t *memTx) InsertMembership(ctx context.Context, teamID, userID uuid.UUID, startDate time.Time) (*models.Membership, error) {
	if _, ok := t.st.teams[teamID]; !ok {
		return nil, fmt.Errorf("failed to insert membership: %w: team does not exist", models.ErrConflict)
	}
	if _, ok := t.st.users[userID]; !ok {
		return nil, fmt.Errorf("failed to insert membership: %w: user does not exist", models.ErrConflict)
	}
	for _, m := range t.st.memberships {
		if m.UserID == userID && m.IsActive {
			return nil, fmt.Errorf("failed to insert membership: %w: user already has an active membership", models.ErrConflict)
		}
	}

	now := t.now()
	m := models.Membership{
		ID:        uuid.New(),
		TeamID:    teamID,
		UserID:    userID,
		StartDate: startDate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.st.memberships = append(t.st.memberships, m)
	return &m, nil
}

func (t *memTx) EndMembership(ctx context.Context, teamID, userID uuid.UUID, endDate time.Time) (*models.Membership, error) {
	for i, m := range t.st.memberships {
		if m.TeamID == teamID && m.UserID == userID && m.IsActive {
			m.EndDate = &endDate
			m.IsActive = false
			m.UpdatedAt = t.now()
			t.st.memberships[i] = m
			return &m, nil
		}
	}
	return nil, fmt.Errorf("failed to end membership: %w", models.ErrNotFound)
}

// LockHierarchy ничего не делает: транзакции в памяти уже выполняются по одной
func (t *memTx) LockHierarchy(ctx context.Context) error {
	return nil
}

func (t *memTx) ListTeams(ctx context.Context) ([]models.Team, error) {
	return t.st.sortedTeams(), nil
}

func (t *memTx) ListEdges(ctx context.Context) ([]models.HierarchyEdge, error) {
	return append([]models.HierarchyEdge(nil), t.st.edges...), nil
}

func (t *memTx) InsertEdge(ctx context.Context, parentID, childID uuid.UUID) (*models.HierarchyEdge, error) {
	if parentID == childID {
		return nil, fmt.Errorf("failed to insert hierarchy edge: %w: team cannot be its own parent", models.ErrValidation)
	}
	if _, ok := t.st.teams[parentID]; !ok {
		return nil, fmt.Errorf("failed to insert hierarchy edge: %w: parent team does not exist", models.ErrConflict)
	}
	if _, ok := t.st.teams[childID]; !ok {
		return nil, fmt.Errorf("failed to insert hierarchy edge: %w: child team does not exist", models.ErrConflict)
	}
	for _, e := range t.st.edges {
		if e.ParentTeamID == parentID && e.ChildTeamID == childID {
			return nil, fmt.Errorf("failed to insert hierarchy edge: %w: hierarchy relationship already exists", models.ErrConflict)
		}
	}

	e := models.HierarchyEdge{ParentTeamID: parentID, ChildTeamID: childID, CreatedAt: t.now()}
	t.st.edges = append(t.st.edges, e)
	return &e, nil
}

func (t *memTx) DeleteEdge(ctx context.Context, parentID, childID uuid.UUID) error {
	for i, e := range t.st.edges {
		if e.ParentTeamID == parentID && e.ChildTeamID == childID {
			t.st.edges = append(t.st.edges[:i:i], t.st.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("hierarchy relationship: %w", models.ErrNotFound)
}
