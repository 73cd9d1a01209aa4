// Package workflow проводит изменения состава и метаданных команд через заявки:
// заявка создаётся в статусе pending и применяется только после решения
// уполномоченного пользователя, целиком в одной транзакции.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
	"go.uber.org/zap"
)

// Store часть хранилища, нужная движку
type Store interface {
	repository.Transactor
	repository.ChangeRequestStore
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Policy права глобальных ролей
type Policy interface {
	Allowed(role models.Role, obj authz.Object, act authz.Action) (bool, error)
}

// SubmitRequest входные данные новой заявки
type SubmitRequest struct {
	Type    models.RequestType
	TeamID  *uuid.UUID
	UserID  *uuid.UUID
	Details []byte
}

// Outcome результат решения по заявке: заявка до и после и все изменённые строки
// для журнала аудита
type Outcome struct {
	Before  models.ChangeRequest
	Request models.ChangeRequest
	Changes []models.RowChange
}

type Engine struct {
	store   Store
	policy  Policy
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func New(store Store, policy Policy, logger *zap.Logger, timeout time.Duration) *Engine {
	return &Engine{
		store:   store,
		policy:  policy,
		logger:  logger.Named("workflow"),
		timeout: timeout,
		now:     time.Now,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// today текущая дата в UTC без времени
func (e *Engine) today() time.Time {
	y, m, d := e.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Submit проверяет тип и содержимое заявки и сохраняет её в статусе pending.
// Само изменение при этом не применяется.
func (e *Engine) Submit(ctx context.Context, actor models.Actor, req SubmitRequest) (*models.ChangeRequest, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	allowed, err := e.policy.Allowed(actor.Role, authz.ObjectChangeRequests, authz.ActionSubmit)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: role %s cannot submit change requests", models.ErrForbidden, actor.Role)
	}

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown request_type %q", models.ErrValidation, req.Type)
	}
	payload, err := models.ParsePayload(req.Type, req.TeamID, req.UserID, req.Details)
	if err != nil {
		return nil, err
	}

	teamID := req.TeamID
	// Заявку на перевод утверждает лид исходной команды
	if move, ok := payload.(models.MoveMember); ok && teamID == nil {
		from := move.FromTeamID
		teamID = &from
	}

	if _, err := e.store.GetUser(ctx, actor.UserID); err != nil {
		return nil, fmt.Errorf("requester: %w", err)
	}
	if teamID != nil {
		if _, err := e.store.GetTeam(ctx, *teamID); err != nil {
			return nil, err
		}
	}
	if req.UserID != nil {
		if _, err := e.store.GetUser(ctx, *req.UserID); err != nil {
			return nil, err
		}
	}

	cr, err := e.store.CreateChangeRequest(ctx, models.ChangeRequest{
		RequestType: req.Type,
		RequesterID: actor.UserID,
		TeamID:      teamID,
		UserID:      req.UserID,
		Details:     req.Details,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("change request submitted",
		zap.String("id", cr.ID.String()),
		zap.String("type", string(cr.RequestType)),
		zap.String("requester_id", actor.UserID.String()))
	return cr, nil
}

// Decide принимает решение по заявке. Блокировка строки заявки, проверка прав,
// проверка статуса, применение изменения и смена статуса выполняются в одной
// транзакции: любая ошибка откатывает всё, и заявка остаётся pending.
func (e *Engine) Decide(ctx context.Context, actor models.Actor, id uuid.UUID, decision models.Decision, notes *string) (*Outcome, error) {
	var status models.Status
	switch decision {
	case models.DecisionApprove:
		status = models.StatusApproved
	case models.DecisionReject:
		status = models.StatusRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrValidation, decision)
	}

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	var out Outcome
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		cr, err := tx.LockChangeRequest(ctx, id)
		if err != nil {
			return err
		}
		out.Before = *cr

		if err := e.authorizeDecision(ctx, tx, actor, cr); err != nil {
			return err
		}
		if !cr.Pending() {
			return fmt.Errorf("%w: change request %s is already %s", models.ErrInvalidState, id, cr.Status)
		}

		if decision == models.DecisionApprove {
			payload, err := cr.Payload()
			if err != nil {
				return err
			}
			if out.Changes, err = e.apply(ctx, tx, payload); err != nil {
				return err
			}
		}

		decided, err := tx.DecideChangeRequest(ctx, id, status, actor.UserID, notes, e.now().UTC())
		if err != nil {
			return err
		}
		out.Request = *decided
		out.Changes = append(out.Changes, models.RowChange{
			Table:    "change_requests",
			RecordID: id.String(),
			Action:   models.ActionUpdate,
			Old:      out.Before,
			New:      out.Request,
			Summary:  fmt.Sprintf("%s request %s", status, cr.RequestType),
		})
		return nil
	})
	if err != nil {
		e.logger.Warn("change request decision failed",
			zap.String("id", id.String()),
			zap.String("decision", string(decision)),
			zap.String("actor_id", actor.UserID.String()),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("change request decided",
		zap.String("id", id.String()),
		zap.String("type", string(out.Request.RequestType)),
		zap.String("status", string(out.Request.Status)),
		zap.String("approver_id", actor.UserID.String()))
	return &out, nil
}

// authorizeDecision пропускает super_admin и лида команды из заявки.
// Лид читается внутри транзакции, поэтому смена лида учитывается сразу.
func (e *Engine) authorizeDecision(ctx context.Context, tx repository.Tx, actor models.Actor, cr *models.ChangeRequest) error {
	allowed, err := e.policy.Allowed(actor.Role, authz.ObjectChangeRequests, authz.ActionDecide)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	if cr.TeamID != nil {
		team, err := tx.GetTeam(ctx, *cr.TeamID)
		switch {
		case err == nil:
			if team.LeadUserID != nil && *team.LeadUserID == actor.UserID {
				return nil
			}
		case errors.Is(err, models.ErrNotFound):
			// Команду удалила уже одобренная заявка: лида проверить не по чему,
			// а решение по заявке всё равно уже принято
			if !cr.Pending() {
				return fmt.Errorf("%w: change request %s is already %s", models.ErrInvalidState, cr.ID, cr.Status)
			}
		default:
			return err
		}
	}
	return fmt.Errorf("%w: user %s is neither super_admin nor lead of the request's team", models.ErrForbidden, actor.UserID)
}

// Get возвращает заявку по ID
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	return e.store.GetChangeRequest(ctx, id)
}

// List возвращает заявки, новые первыми
func (e *Engine) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, *filter.Status)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", models.ErrValidation)
	}
	return e.store.ListChangeRequests(ctx, filter)
}

// ListByStatus возвращает заявки в указанном статусе
func (e *Engine) ListByStatus(ctx context.Context, status models.Status) ([]models.ChangeRequest, error) {
	return e.List(ctx, models.ChangeRequestFilter{Status: &status})
}

// PendingCount количество заявок, ожидающих решения
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	return e.store.CountChangeRequests(ctx, models.StatusPending)
}
