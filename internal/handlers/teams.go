package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"go.uber.org/zap"
)

// ListTeams список команд с количеством активных участников
func (h *Handler) ListTeams(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectTeams, authz.ActionRead); err != nil {
		return h.respondError(c, "ListTeams", err)
	}

	teams, err := h.repo.ListTeamSummaries(c.Request().Context())
	if err != nil {
		return h.respondError(c, "ListTeams", err)
	}

	h.logger.Info("ListTeams: команды получены", zap.Int("count", len(teams)))
	return c.JSON(http.StatusOK, map[string]interface{}{"teams": teams})
}

// GetTeam команда с участниками, родителем и детьми
func (h *Handler) GetTeam(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectTeams, authz.ActionRead); err != nil {
		return h.respondError(c, "GetTeam", err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return h.respondError(c, "GetTeam", err)
	}
	h.logger.Info("GetTeam: получение команды", zap.String("team_id", id.String()))

	ctx := c.Request().Context()
	team, err := h.repo.GetTeam(ctx, id)
	if err != nil {
		return h.respondError(c, "GetTeam", err)
	}
	members, err := h.repo.ListTeamMembers(ctx, id)
	if err != nil {
		return h.respondError(c, "GetTeam", err)
	}
	parents, children, err := h.hierarchy.Neighbours(ctx, id)
	if err != nil {
		return h.respondError(c, "GetTeam", err)
	}

	details := models.TeamDetails{
		Team:       *team,
		Members:    members,
		ChildTeams: children,
	}
	// Родителей может быть несколько; в карточке показываем первого по имени
	if len(parents) > 0 {
		details.ParentTeam = &parents[0]
	}
	if details.Members == nil {
		details.Members = []models.MemberView{}
	}
	if details.ChildTeams == nil {
		details.ChildTeams = []models.Team{}
	}

	h.logger.Info("GetTeam: команда получена",
		zap.String("team_id", id.String()),
		zap.Int("members_count", len(members)))
	return c.JSON(http.StatusOK, details)
}

// GetTeamMembers активные участники команды
func (h *Handler) GetTeamMembers(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectTeams, authz.ActionRead); err != nil {
		return h.respondError(c, "GetTeamMembers", err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return h.respondError(c, "GetTeamMembers", err)
	}

	ctx := c.Request().Context()
	if _, err := h.repo.GetTeam(ctx, id); err != nil {
		return h.respondError(c, "GetTeamMembers", err)
	}
	members, err := h.repo.ListTeamMembers(ctx, id)
	if err != nil {
		return h.respondError(c, "GetTeamMembers", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"members": members})
}

// GetUserMemberships история участий пользователя, новые первыми
func (h *Handler) GetUserMemberships(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectTeams, authz.ActionRead); err != nil {
		return h.respondError(c, "GetUserMemberships", err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return h.respondError(c, "GetUserMemberships", err)
	}

	ctx := c.Request().Context()
	user, err := h.repo.GetUser(ctx, id)
	if err != nil {
		return h.respondError(c, "GetUserMemberships", err)
	}
	memberships, err := h.repo.ListUserMemberships(ctx, id)
	if err != nil {
		return h.respondError(c, "GetUserMemberships", err)
	}

	h.logger.Info("GetUserMemberships: история получена",
		zap.String("user_id", id.String()),
		zap.Int("count", len(memberships)))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":        user,
		"memberships": memberships,
	})
}
