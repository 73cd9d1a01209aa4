package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
)

const (
	tableTeams       = "teams"
	tableTeamMembers = "team_members"
)

// apply выполняет изменение, описанное заявкой, и возвращает изменённые строки
func (e *Engine) apply(ctx context.Context, tx repository.Tx, payload models.Payload) ([]models.RowChange, error) {
	switch p := payload.(type) {
	case models.AddMember:
		return e.addMember(ctx, tx, p)
	case models.RemoveMember:
		return e.removeMember(ctx, tx, p)
	case models.MoveMember:
		return e.moveMember(ctx, tx, p)
	case models.CreateTeam:
		return e.createTeam(ctx, tx, p)
	case models.UpdateTeam:
		return e.updateTeam(ctx, tx, p)
	case models.DeleteTeam:
		return e.deleteTeam(ctx, tx, p)
	}
	return nil, fmt.Errorf("%w: unsupported request type %q", models.ErrValidation, payload.Type())
}

func (e *Engine) addMember(ctx context.Context, tx repository.Tx, p models.AddMember) ([]models.RowChange, error) {
	team, err := tx.GetTeam(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetUser(ctx, p.UserID); err != nil {
		return nil, err
	}

	// Предварительная проверка даёт понятное сообщение; окончательно
	// уникальность держит частичный индекс в базе
	active, err := tx.ActiveMembership(ctx, p.UserID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: user %s already has an active membership in team %s", models.ErrConflict, p.UserID, active.TeamID)
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	m, err := tx.InsertMembership(ctx, p.TeamID, p.UserID, e.today())
	if err != nil {
		return nil, err
	}
	return []models.RowChange{{
		Table:    tableTeamMembers,
		RecordID: m.ID.String(),
		Action:   models.ActionInsert,
		New:      m,
		Summary:  fmt.Sprintf("added user %s to team %s", p.UserID, team.Name),
	}}, nil
}

func (e *Engine) removeMember(ctx context.Context, tx repository.Tx, p models.RemoveMember) ([]models.RowChange, error) {
	team, err := tx.GetTeam(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}

	before, err := tx.ActiveMembership(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("active membership of user %s: %w", p.UserID, err)
	}
	if before.TeamID != p.TeamID {
		return nil, fmt.Errorf("active membership of user %s in team %s: %w", p.UserID, team.Name, models.ErrNotFound)
	}

	after, err := tx.EndMembership(ctx, p.TeamID, p.UserID, e.today())
	if err != nil {
		return nil, err
	}
	return []models.RowChange{{
		Table:    tableTeamMembers,
		RecordID: after.ID.String(),
		Action:   models.ActionUpdate,
		Old:      before,
		New:      after,
		Summary:  fmt.Sprintf("removed user %s from team %s", p.UserID, team.Name),
	}}, nil
}

// moveMember закрывает участие в исходной команде и открывает в целевой с датой
// из заявки. Обе записи в одной транзакции.
func (e *Engine) moveMember(ctx context.Context, tx repository.Tx, p models.MoveMember) ([]models.RowChange, error) {
	from, err := tx.GetTeam(ctx, p.FromTeamID)
	if err != nil {
		return nil, fmt.Errorf("source team: %w", err)
	}
	to, err := tx.GetTeam(ctx, p.ToTeamID)
	if err != nil {
		return nil, fmt.Errorf("target team: %w", err)
	}
	if _, err := tx.GetUser(ctx, p.UserID); err != nil {
		return nil, err
	}

	before, err := tx.ActiveMembership(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("active membership of user %s: %w", p.UserID, err)
	}
	if before.TeamID != p.FromTeamID {
		return nil, fmt.Errorf("active membership of user %s in team %s: %w", p.UserID, from.Name, models.ErrNotFound)
	}

	ended, err := tx.EndMembership(ctx, p.FromTeamID, p.UserID, p.MoveDate)
	if err != nil {
		return nil, err
	}
	started, err := tx.InsertMembership(ctx, p.ToTeamID, p.UserID, p.MoveDate)
	if err != nil {
		return nil, err
	}

	return []models.RowChange{
		{
			Table:    tableTeamMembers,
			RecordID: ended.ID.String(),
			Action:   models.ActionUpdate,
			Old:      before,
			New:      ended,
			Summary:  fmt.Sprintf("moved user %s out of team %s", p.UserID, from.Name),
		},
		{
			Table:    tableTeamMembers,
			RecordID: started.ID.String(),
			Action:   models.ActionInsert,
			New:      started,
			Summary:  fmt.Sprintf("moved user %s into team %s", p.UserID, to.Name),
		},
	}, nil
}

func (e *Engine) createTeam(ctx context.Context, tx repository.Tx, p models.CreateTeam) ([]models.RowChange, error) {
	team, err := tx.CreateTeam(ctx, p.Name, p.Description)
	if err != nil {
		return nil, err
	}
	return []models.RowChange{{
		Table:    tableTeams,
		RecordID: team.ID.String(),
		Action:   models.ActionInsert,
		New:      team,
		Summary:  fmt.Sprintf("created team %s", team.Name),
	}}, nil
}

func (e *Engine) updateTeam(ctx context.Context, tx repository.Tx, p models.UpdateTeam) ([]models.RowChange, error) {
	before, err := tx.GetTeam(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}
	after, err := tx.UpdateTeam(ctx, p.TeamID, p.Name, p.Description)
	if err != nil {
		return nil, err
	}
	return []models.RowChange{{
		Table:    tableTeams,
		RecordID: after.ID.String(),
		Action:   models.ActionUpdate,
		Old:      before,
		New:      after,
		Summary:  fmt.Sprintf("updated team %s", after.Name),
	}}, nil
}

func (e *Engine) deleteTeam(ctx context.Context, tx repository.Tx, p models.DeleteTeam) ([]models.RowChange, error) {
	before, err := tx.GetTeam(ctx, p.TeamID)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteTeam(ctx, p.TeamID); err != nil {
		return nil, err
	}
	return []models.RowChange{{
		Table:    tableTeams,
		RecordID: before.ID.String(),
		Action:   models.ActionDelete,
		Old:      before,
		Summary:  fmt.Sprintf("deleted team %s", before.Name),
	}}, nil
}
