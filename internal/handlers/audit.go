package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 100
	recentAuditLimit  = 20
)

// ListAudit журнал аудита. Параметры: table, record_id, user_id, from, to (RFC 3339), limit.
func (h *Handler) ListAudit(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectAudit, authz.ActionRead); err != nil {
		return h.respondError(c, "ListAudit", err)
	}

	filter, err := auditFilterFromQuery(c)
	if err != nil {
		return h.respondError(c, "ListAudit", err)
	}

	entries, err := h.repo.ListAudit(c.Request().Context(), filter)
	if err != nil {
		return h.respondError(c, "ListAudit", err)
	}

	h.logger.Info("ListAudit: записи получены", zap.Int("count", len(entries)))
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// RecentAudit последние записи журнала
func (h *Handler) RecentAudit(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectAudit, authz.ActionRead); err != nil {
		return h.respondError(c, "RecentAudit", err)
	}

	limit, err := intQuery(c, "limit")
	if err != nil {
		return h.respondError(c, "RecentAudit", err)
	}
	if limit == 0 {
		limit = recentAuditLimit
	}

	entries, err := h.repo.ListAudit(c.Request().Context(), models.AuditFilter{Limit: limit})
	if err != nil {
		return h.respondError(c, "RecentAudit", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// AuditSummary количество и время первой и последней записи по таблице и действию
func (h *Handler) AuditSummary(c echo.Context) error {
	if _, err := h.authorize(c, authz.ObjectAudit, authz.ActionRead); err != nil {
		return h.respondError(c, "AuditSummary", err)
	}

	rows, err := h.repo.AuditSummary(c.Request().Context())
	if err != nil {
		return h.respondError(c, "AuditSummary", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summary": rows})
}

func auditFilterFromQuery(c echo.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		TableName: c.QueryParam("table"),
		RecordID:  c.QueryParam("record_id"),
		Limit:     defaultAuditLimit,
	}

	if raw := c.QueryParam("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: user_id must be a UUID", models.ErrValidation)
		}
		filter.UserID = &id
	}

	var err error
	if filter.From, err = timeQuery(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = timeQuery(c, "to"); err != nil {
		return filter, err
	}

	limit, err := intQuery(c, "limit")
	if err != nil {
		return filter, err
	}
	if limit > 0 {
		filter.Limit = limit
	}
	return filter, nil
}

func timeQuery(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", models.ErrValidation, name)
	}
	return &t, nil
}
