package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"go.uber.org/zap"
)

const actorKey = "actor"

// Authenticate проверяет bearer-токен и кладёт пользователя в контекст запроса.
// Личность того, кто принимает решение, берётся только отсюда.
func (h *Handler) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.logger.Warn("Authenticate: отсутствует bearer-токен", zap.String("uri", c.Request().RequestURI))
			return c.JSON(http.StatusUnauthorized, newErrorResponse(ErrCodeUnauthorized, "missing bearer token"))
		}

		actor, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			h.logger.Warn("Authenticate: недействительный токен", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, newErrorResponse(ErrCodeUnauthorized, "invalid token"))
		}

		c.Set(actorKey, actor)
		return next(c)
	}
}

// actorFrom возвращает пользователя, сохранённого Authenticate
func actorFrom(c echo.Context) (models.Actor, error) {
	actor, ok := c.Get(actorKey).(models.Actor)
	if !ok {
		return models.Actor{}, authz.ErrUnauthorized
	}
	return actor, nil
}

// authorize достаёт пользователя и проверяет право глобальной роли на действие
func (h *Handler) authorize(c echo.Context, obj authz.Object, act authz.Action) (models.Actor, error) {
	actor, err := actorFrom(c)
	if err != nil {
		return models.Actor{}, err
	}
	if err := h.policy.Require(actor, obj, act); err != nil {
		return models.Actor{}, err
	}
	return actor, nil
}

// RateLimited ограничивает число изменяющих запросов одного пользователя в окне
func (h *Handler) RateLimited(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rl := h.rateLimit
		if rl.Limiter == nil || rl.Requests <= 0 {
			return next(c)
		}

		key := c.RealIP()
		if actor, err := actorFrom(c); err == nil {
			key = actor.UserID.String()
		}
		key = "rl:" + c.Path() + ":" + key

		d := rl.Limiter.Allow(c.Request().Context(), key, rl.Requests, rl.Window)
		res := c.Response().Header()
		res.Set("X-RateLimit-Limit", strconv.Itoa(rl.Requests))
		res.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(time.Until(d.WindowEnd).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			res.Set("Retry-After", strconv.Itoa(retry))
			if h.metrics != nil {
				h.metrics.RateLimitHit(c.Path())
			}
			h.logger.Warn("RateLimited: превышен лимит запросов",
				zap.String("route", c.Path()),
				zap.Int("count", d.Count))
			return c.JSON(http.StatusTooManyRequests, newErrorResponse(ErrCodeRateLimited, "rate limit exceeded"))
		}
		return next(c)
	}
}

// ObserveRequests пишет количество и длительность запросов по шаблону маршрута
func (h *Handler) ObserveRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else if err != nil && !c.Response().Committed {
			status = http.StatusInternalServerError
		}

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		if h.metrics != nil {
			h.metrics.ObserveRequest(c.Request().Method, route, status, time.Since(start))
		}
		return err
	}
}

// requestValidator подключает проверку тегов validate к echo.Context.Validate
type requestValidator struct{}

func (requestValidator) Validate(i any) error {
	return models.Validate(i)
}

// NewValidator валидатор для echo.Echo.Validator
func NewValidator() echo.Validator {
	return requestValidator{}
}
