// repository/repository.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
)

// Lifecycle описывает проверку доступности и освобождение хранилища
type Lifecycle interface {
	Ping(ctx context.Context) error
	Close()
}

// Transactor запускает функцию в одной транзакции.
// Ошибка из fn откатывает все изменения и возвращается вызывающему без изменений.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// ChangeRequestStore операции над заявками вне транзакции решения
type ChangeRequestStore interface {
	CreateChangeRequest(ctx context.Context, cr models.ChangeRequest) (*models.ChangeRequest, error)
	GetChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error)
	ListChangeRequests(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	CountChangeRequests(ctx context.Context, status models.Status) (int, error)
}

// TeamReader операции чтения команд, пользователей и участий
type TeamReader interface {
	ListTeamSummaries(ctx context.Context) ([]models.TeamSummary, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListTeamMembers(ctx context.Context, teamID uuid.UUID) ([]models.MemberView, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]models.MemberView, error)
}

// AuditStore журнал аудита: только добавление и чтение
type AuditStore interface {
	InsertAudit(ctx context.Context, entries []models.AuditEntry) error
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
	AuditSummary(ctx context.Context) ([]models.AuditSummaryRow, error)
}

// Repository объединяет все интерфейсы хранилища
type Repository interface {
	Lifecycle
	Transactor
	ChangeRequestStore
	TeamReader
	AuditStore
}

// Tx операции, доступные внутри транзакции.
// Все методы возвращают models.ErrNotFound для отсутствующих записей
// и models.ErrConflict для нарушений ограничений уникальности и внешних ключей.
type Tx interface {
	// LockChangeRequest читает заявку с блокировкой строки до конца транзакции
	LockChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error)
	DecideChangeRequest(ctx context.Context, id uuid.UUID, status models.Status, approverID uuid.UUID, notes *string, at time.Time) (*models.ChangeRequest, error)

	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateTeam(ctx context.Context, name, description string) (*models.Team, error)
	UpdateTeam(ctx context.Context, id uuid.UUID, name, description *string) (*models.Team, error)
	// DeleteTeam удаляет команду без активных участников вместе с историей участий
	DeleteTeam(ctx context.Context, id uuid.UUID) error

	ActiveMembership(ctx context.Context, userID uuid.UUID) (*models.Membership, error)
	InsertMembership(ctx context.Context, teamID, userID uuid.UUID, startDate time.Time) (*models.Membership, error)
	// EndMembership закрывает активное участие пользователя в команде и возвращает строку после изменения
	EndMembership(ctx context.Context, teamID, userID uuid.UUID, endDate time.Time) (*models.Membership, error)

	// LockHierarchy сериализует изменения иерархии до конца транзакции
	LockHierarchy(ctx context.Context) error
	ListTeams(ctx context.Context) ([]models.Team, error)
	ListEdges(ctx context.Context) ([]models.HierarchyEdge, error)
	InsertEdge(ctx context.Context, parentID, childID uuid.UUID) (*models.HierarchyEdge, error)
	DeleteEdge(ctx context.Context, parentID, childID uuid.UUID) error
}
