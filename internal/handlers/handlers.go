package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/audit"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/hierarchy"
	"github.com/untibullet/teamhub/internal/metrics"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/ratelimit"
	"github.com/untibullet/teamhub/internal/repository"
	"github.com/untibullet/teamhub/internal/workflow"
	"go.uber.org/zap"
)

// Коды ошибок для API
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeAlreadyDecided = "ALREADY_DECIDED"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeIntegrity      = "INTEGRITY_ERROR"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// RateLimit лимит запросов на изменяющие маршруты; Limiter == nil отключает проверку
type RateLimit struct {
	Limiter  ratelimit.Limiter
	Requests int
	Window   time.Duration
}

// Deps зависимости обработчиков
type Deps struct {
	Repo      repository.Repository
	Engine    *workflow.Engine
	Hierarchy *hierarchy.Service
	Recorder  *audit.Recorder
	Policy    *authz.Enforcer
	Tokens    *authz.Tokens
	Metrics   *metrics.Metrics
	RateLimit RateLimit
	Logger    *zap.Logger
}

type Handler struct {
	repo      repository.Repository
	engine    *workflow.Engine
	hierarchy *hierarchy.Service
	recorder  *audit.Recorder
	policy    *authz.Enforcer
	tokens    *authz.Tokens
	metrics   *metrics.Metrics
	rateLimit RateLimit
	logger    *zap.Logger
}

// New создает новый экземпляр обработчика
func New(d Deps) *Handler {
	return &Handler{
		repo:      d.Repo,
		engine:    d.Engine,
		hierarchy: d.Hierarchy,
		recorder:  d.Recorder,
		policy:    d.Policy,
		tokens:    d.Tokens,
		metrics:   d.Metrics,
		rateLimit: d.RateLimit,
		logger:    d.Logger,
	}
}

// ErrorResponse представляет структуру ошибки API
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newErrorResponse создает стандартный ответ с ошибкой
func newErrorResponse(code, message string) ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	return resp
}

// errorStatus сопоставляет ошибку слоя бизнес-логики с HTTP статусом и кодом API
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, models.ErrConflict):
		return http.StatusBadRequest, ErrCodeConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, authz.ErrUnauthorized):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict, ErrCodeAlreadyDecided
	case errors.Is(err, models.ErrIntegrity):
		return http.StatusInternalServerError, ErrCodeIntegrity
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// respondError пишет ответ с ошибкой. Клиентские ошибки логируются как Warn,
// внутренние как Error, и их текст не уходит клиенту.
func (h *Handler) respondError(c echo.Context, op string, err error) error {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+": внутренняя ошибка", zap.Error(err))
		message := "internal server error"
		if code == ErrCodeIntegrity {
			message = "hierarchy integrity violation"
		}
		return c.JSON(status, newErrorResponse(code, message))
	}

	h.logger.Warn(op+": запрос отклонён", zap.Int("status", status), zap.Error(err))
	return c.JSON(status, newErrorResponse(code, err.Error()))
}

// uuidParam читает UUID из параметра пути
func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, &paramError{name: name}
	}
	return id, nil
}

type paramError struct {
	name string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + ": expected UUID"
}

func (e *paramError) Unwrap() error {
	return models.ErrValidation
}

// RegisterRoutes регистрирует все маршруты API
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api", h.Authenticate)
	write := h.RateLimited

	// Change requests
	changes := api.Group("/changes")
	changes.POST("", h.SubmitChangeRequest, write)
	changes.GET("", h.ListChangeRequests)
	changes.GET("/pending/count", h.PendingCount)
	changes.GET("/status/:status", h.ListChangeRequestsByStatus)
	changes.GET("/:id", h.GetChangeRequest)
	changes.PUT("/:id/approve", h.ApproveChangeRequest, write)
	changes.PUT("/:id/reject", h.RejectChangeRequest, write)

	// Hierarchy
	hier := api.Group("/hierarchy")
	hier.GET("", h.GetHierarchyTree)
	hier.POST("", h.AddHierarchyEdge, write)
	hier.DELETE("/:parentId/:childId", h.RemoveHierarchyEdge, write)
	hier.GET("/roots", h.GetRootTeams)
	hier.GET("/leaves", h.GetLeafTeams)
	hier.GET("/team/:teamId", h.GetTeamHierarchy)

	// Teams
	teams := api.Group("/teams")
	teams.GET("", h.ListTeams)
	teams.GET("/:id", h.GetTeam)
	teams.GET("/:id/members", h.GetTeamMembers)

	// Users
	api.GET("/users/:id/memberships", h.GetUserMemberships)

	// Audit
	auditLog := api.Group("/audit")
	auditLog.GET("", h.ListAudit)
	auditLog.GET("/summary", h.AuditSummary)
	auditLog.GET("/recent", h.RecentAudit)
}
