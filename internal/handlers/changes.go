package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/workflow"
	"go.uber.org/zap"
)

type submitChangeRequest struct {
	RequestType string          `json:"request_type" validate:"required"`
	TeamID      *uuid.UUID      `json:"team_id"`
	UserID      *uuid.UUID      `json:"user_id"`
	Details     json.RawMessage `json:"details"`
}

type decideChangeRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

// SubmitChangeRequest создает заявку в статусе pending
func (h *Handler) SubmitChangeRequest(c echo.Context) error {
	h.logger.Info("SubmitChangeRequest: начало обработки запроса")

	actor, err := actorFrom(c)
	if err != nil {
		return h.respondError(c, "SubmitChangeRequest", err)
	}

	var req submitChangeRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("SubmitChangeRequest: ошибка парсинга тела запроса", zap.Error(err))
		return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return h.respondError(c, "SubmitChangeRequest", err)
	}

	h.logger.Info("SubmitChangeRequest: создание заявки",
		zap.String("request_type", req.RequestType),
		zap.String("requester_id", actor.UserID.String()))

	cr, err := h.engine.Submit(c.Request().Context(), actor, workflow.SubmitRequest{
		Type:    models.RequestType(req.RequestType),
		TeamID:  req.TeamID,
		UserID:  req.UserID,
		Details: req.Details,
	})
	if err != nil {
		return h.respondError(c, "SubmitChangeRequest", err)
	}

	if h.metrics != nil {
		h.metrics.ChangeRequestSubmitted(string(cr.RequestType))
	}
	h.logger.Info("SubmitChangeRequest: заявка создана", zap.String("id", cr.ID.String()))
	return c.JSON(http.StatusCreated, cr)
}

// ApproveChangeRequest одобряет заявку и применяет изменение
func (h *Handler) ApproveChangeRequest(c echo.Context) error {
	return h.decide(c, "ApproveChangeRequest", models.DecisionApprove)
}

// RejectChangeRequest отклоняет заявку без изменений
func (h *Handler) RejectChangeRequest(c echo.Context) error {
	return h.decide(c, "RejectChangeRequest", models.DecisionReject)
}

func (h *Handler) decide(c echo.Context, op string, decision models.Decision) error {
	h.logger.Info(op + ": начало обработки запроса")

	actor, err := actorFrom(c)
	if err != nil {
		return h.respondError(c, op, err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return h.respondError(c, op, err)
	}

	var req decideChangeRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error(op+": ошибка парсинга тела запроса", zap.Error(err))
		return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return h.respondError(c, op, err)
	}

	h.logger.Info(op+": решение по заявке",
		zap.String("id", id.String()),
		zap.String("approver_id", actor.UserID.String()))

	out, err := h.engine.Decide(c.Request().Context(), actor, id, decision, req.Notes)
	if err != nil {
		h.observeDecision(decision, err)
		return h.respondError(c, op, err)
	}
	h.observeDecision(decision, nil)

	h.recordAudit(c.Request().Context(), op, actor, out.Changes)

	h.logger.Info(op+": решение принято",
		zap.String("id", id.String()),
		zap.String("status", string(out.Request.Status)),
		zap.Int("changes", len(out.Changes)))
	return c.JSON(http.StatusOK, out.Request)
}

func (h *Handler) observeDecision(decision models.Decision, err error) {
	if h.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		_, code := errorStatus(err)
		result = strings.ToLower(code)
	}
	h.metrics.DecisionObserved(string(decision), result)
}

// recordAudit пишет изменения в журнал после фиксации транзакции.
// Ошибка журнала не отменяет уже применённое изменение и только логируется.
func (h *Handler) recordAudit(ctx context.Context, op string, actor models.Actor, changes []models.RowChange) {
	if h.recorder == nil || len(changes) == 0 {
		return
	}
	if err := h.recorder.Record(ctx, actor.UserID, changes); err != nil {
		h.logger.Error(op+": ошибка записи в журнал аудита", zap.Error(err))
	}
}

// GetChangeRequest получает заявку по ID
func (h *Handler) GetChangeRequest(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectChangeRequests, authz.ActionRead); err != nil {
		return h.respondError(c, "GetChangeRequest", err)
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return h.respondError(c, "GetChangeRequest", err)
	}
	h.logger.Info("GetChangeRequest: получение заявки", zap.String("id", id.String()))

	cr, err := h.engine.Get(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, "GetChangeRequest", err)
	}
	return c.JSON(http.StatusOK, cr)
}

// ListChangeRequests список заявок, новые первыми. Параметры: status, limit.
func (h *Handler) ListChangeRequests(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectChangeRequests, authz.ActionRead); err != nil {
		return h.respondError(c, "ListChangeRequests", err)
	}

	var filter models.ChangeRequestFilter
	if s := c.QueryParam("status"); s != "" {
		status := models.Status(s)
		filter.Status = &status
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		return h.respondError(c, "ListChangeRequests", err)
	}
	filter.Limit = limit

	requests, err := h.engine.List(c.Request().Context(), filter)
	if err != nil {
		return h.respondError(c, "ListChangeRequests", err)
	}

	h.logger.Info("ListChangeRequests: заявки получены", zap.Int("count", len(requests)))
	return c.JSON(http.StatusOK, map[string]interface{}{"change_requests": requests})
}

// ListChangeRequestsByStatus список заявок в статусе из пути
func (h *Handler) ListChangeRequestsByStatus(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectChangeRequests, authz.ActionRead); err != nil {
		return h.respondError(c, "ListChangeRequestsByStatus", err)
	}

	status := models.Status(c.Param("status"))
	requests, err := h.engine.ListByStatus(c.Request().Context(), status)
	if err != nil {
		return h.respondError(c, "ListChangeRequestsByStatus", err)
	}

	h.logger.Info("ListChangeRequestsByStatus: заявки получены",
		zap.String("status", string(status)),
		zap.Int("count", len(requests)))
	return c.JSON(http.StatusOK, map[string]interface{}{"change_requests": requests})
}

// PendingCount количество заявок, ожидающих решения
func (h *Handler) PendingCount(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectChangeRequests, authz.ActionRead); err != nil {
		return h.respondError(c, "PendingCount", err)
	}

	n, err := h.engine.PendingCount(c.Request().Context())
	if err != nil {
		return h.respondError(c, "PendingCount", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// intQuery читает неотрицательное целое из строки запроса; пустое значение даёт 0
func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrValidation, name)
	}
	return n, nil
}
