package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"go.uber.org/zap"
)

const tableTeamHierarchy = "team_hierarchy"

type addEdgeRequest struct {
	ParentTeamID string `json:"parent_team_id" validate:"required,uuid"`
	ChildTeamID  string `json:"child_team_id" validate:"required,uuid"`
}

// AddHierarchyEdge добавляет связь родитель -> потомок с проверкой на цикл
func (h *Handler) AddHierarchyEdge(c echo.Context) error {
	h.logger.Info("AddHierarchyEdge: начало обработки запроса")

	actor, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionWrite)
	if err != nil {
		h.observeHierarchyEdit("add", err)
		return h.respondError(c, "AddHierarchyEdge", err)
	}

	var req addEdgeRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("AddHierarchyEdge: ошибка парсинга тела запроса", zap.Error(err))
		return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		h.observeHierarchyEdit("add", err)
		return h.respondError(c, "AddHierarchyEdge", err)
	}
	parentID, childID := uuid.MustParse(req.ParentTeamID), uuid.MustParse(req.ChildTeamID)

	h.logger.Info("AddHierarchyEdge: добавление связи",
		zap.String("parent_team_id", parentID.String()),
		zap.String("child_team_id", childID.String()))

	edge, err := h.hierarchy.AddEdge(c.Request().Context(), parentID, childID)
	h.observeHierarchyEdit("add", err)
	if err != nil {
		return h.respondError(c, "AddHierarchyEdge", err)
	}

	h.recordAudit(c.Request().Context(), "AddHierarchyEdge", actor, []models.RowChange{{
		Table:    tableTeamHierarchy,
		RecordID: edgeRecordID(edge),
		Action:   models.ActionInsert,
		New:      edge,
		Summary:  "added hierarchy edge " + edgeRecordID(edge),
	}})

	h.logger.Info("AddHierarchyEdge: связь добавлена")
	return c.JSON(http.StatusCreated, edge)
}

// RemoveHierarchyEdge удаляет связь родитель -> потомок
func (h *Handler) RemoveHierarchyEdge(c echo.Context) error {
	h.logger.Info("RemoveHierarchyEdge: начало обработки запроса")

	actor, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionWrite)
	if err != nil {
		h.observeHierarchyEdit("remove", err)
		return h.respondError(c, "RemoveHierarchyEdge", err)
	}
	parentID, err := uuidParam(c, "parentId")
	if err != nil {
		return h.respondError(c, "RemoveHierarchyEdge", err)
	}
	childID, err := uuidParam(c, "childId")
	if err != nil {
		return h.respondError(c, "RemoveHierarchyEdge", err)
	}

	edge, err := h.hierarchy.RemoveEdge(c.Request().Context(), parentID, childID)
	h.observeHierarchyEdit("remove", err)
	if err != nil {
		return h.respondError(c, "RemoveHierarchyEdge", err)
	}

	h.recordAudit(c.Request().Context(), "RemoveHierarchyEdge", actor, []models.RowChange{{
		Table:    tableTeamHierarchy,
		RecordID: edgeRecordID(edge),
		Action:   models.ActionDelete,
		Old:      edge,
		Summary:  "removed hierarchy edge " + edgeRecordID(edge),
	}})

	h.logger.Info("RemoveHierarchyEdge: связь удалена",
		zap.String("parent_team_id", parentID.String()),
		zap.String("child_team_id", childID.String()))
	return c.NoContent(http.StatusNoContent)
}

func edgeRecordID(e *models.HierarchyEdge) string {
	return e.ParentTeamID.String() + ":" + e.ChildTeamID.String()
}

func (h *Handler) observeHierarchyEdit(op string, err error) {
	if h.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		_, code := errorStatus(err)
		result = strings.ToLower(code)
	}
	h.metrics.HierarchyEdit(op, result)
}

// GetHierarchyTree вся иерархия от корней с уровнями
func (h *Handler) GetHierarchyTree(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionRead); err != nil {
		return h.respondError(c, "GetHierarchyTree", err)
	}

	nodes, err := h.hierarchy.Tree(c.Request().Context())
	if err != nil {
		return h.respondError(c, "GetHierarchyTree", err)
	}

	h.logger.Info("GetHierarchyTree: иерархия получена", zap.Int("nodes", len(nodes)))
	return c.JSON(http.StatusOK, map[string]interface{}{"teams": nodes})
}

// GetRootTeams команды без родителя
func (h *Handler) GetRootTeams(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionRead); err != nil {
		return h.respondError(c, "GetRootTeams", err)
	}

	teams, err := h.hierarchy.Roots(c.Request().Context())
	if err != nil {
		return h.respondError(c, "GetRootTeams", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"teams": teams})
}

// GetLeafTeams команды без детей
func (h *Handler) GetLeafTeams(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionRead); err != nil {
		return h.respondError(c, "GetLeafTeams", err)
	}

	teams, err := h.hierarchy.Leaves(c.Request().Context())
	if err != nil {
		return h.respondError(c, "GetLeafTeams", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"teams": teams})
}

// GetTeamHierarchy предки и потомки команды
func (h *Handler) GetTeamHierarchy(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectHierarchy, authz.ActionRead); err != nil {
		return h.respondError(c, "GetTeamHierarchy", err)
	}
	teamID, err := uuidParam(c, "teamId")
	if err != nil {
		return h.respondError(c, "GetTeamHierarchy", err)
	}

	th, err := h.hierarchy.TeamHierarchy(c.Request().Context(), teamID)
	if err != nil {
		return h.respondError(c, "GetTeamHierarchy", err)
	}

	h.logger.Info("GetTeamHierarchy: иерархия команды получена",
		zap.String("team_id", teamID.String()),
		zap.Int("parents", len(th.Parents)),
		zap.Int("children", len(th.Children)))
	return c.JSON(http.StatusOK, th)
}
