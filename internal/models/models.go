// models/models.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role глобальная роль пользователя
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleTeamLead   Role = "team_lead"
	RoleMember     Role = "member"
	RoleReadOnly   Role = "read_only"
)

// Valid проверяет, что роль входит в известный набор
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTeamLead, RoleMember, RoleReadOnly:
		return true
	}
	return false
}

// Actor представляет аутентифицированного пользователя, выполняющего действие
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// User представляет пользователя системы
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Role      Role      `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Team представляет команду
type Team struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	LeadUserID  *uuid.UUID `json:"lead_user_id,omitempty" db:"lead_user_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TeamSummary команда с количеством активных участников
type TeamSummary struct {
	Team
	MemberCount int `json:"member_count"`
}

// TeamDetails команда с участниками и соседями по иерархии
type TeamDetails struct {
	Team
	Members    []MemberView `json:"members"`
	ParentTeam *Team        `json:"parent_team"`
	ChildTeams []Team       `json:"child_teams"`
}

// Membership представляет участие пользователя в команде
type Membership struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	TeamID    uuid.UUID  `json:"team_id" db:"team_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// MemberView участие вместе с данными пользователя и названием команды
type MemberView struct {
	Membership
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	TeamName  string `json:"team_name"`
}

// HierarchyEdge связь родитель -> потомок между командами
type HierarchyEdge struct {
	ParentTeamID uuid.UUID `json:"parent_team_id" db:"parent_team_id"`
	ChildTeamID  uuid.UUID `json:"child_team_id" db:"child_team_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TeamNode команда в выдаче обхода иерархии
type TeamNode struct {
	Team
	ParentTeamID *uuid.UUID `json:"parent_team_id,omitempty"`
	Level        int        `json:"level"`
}

// Status статус заявки на изменение
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid проверяет, что статус входит в известный набор
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Decision решение по заявке
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ChangeRequest заявка на изменение состава или метаданных команды
type ChangeRequest struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	RequestType RequestType     `json:"request_type" db:"request_type"`
	RequesterID uuid.UUID       `json:"requester_id" db:"requester_id"`
	TeamID      *uuid.UUID      `json:"team_id,omitempty" db:"team_id"`
	UserID      *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Details     json.RawMessage `json:"details" db:"details"`
	Status      Status          `json:"status" db:"status"`
	ApproverID  *uuid.UUID      `json:"approver_id,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	Notes       *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Pending возвращает true, пока по заявке не принято решение
func (cr *ChangeRequest) Pending() bool {
	return cr.Status == StatusPending
}

// Payload разбирает details заявки в типизированный вариант
func (cr *ChangeRequest) Payload() (Payload, error) {
	return ParsePayload(cr.RequestType, cr.TeamID, cr.UserID, cr.Details)
}

// ChangeRequestFilter параметры выборки заявок
type ChangeRequestFilter struct {
	Status *Status
	Limit  int
}
