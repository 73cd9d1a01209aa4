// Package authz решает, какие действия доступны глобальной роли, и проверяет
// токены, из которых берётся личность пользователя.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/untibullet/teamhub/internal/models"
)

// Object ресурс, к которому относится действие
type Object string

const (
	ObjectChangeRequests Object = "change_requests"
	ObjectHierarchy      Object = "hierarchy"
	ObjectTeams          Object = "teams"
	ObjectAudit          Object = "audit"
)

// Action действие над ресурсом
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionSubmit Action = "submit"
	ActionDecide Action = "decide"
)

// Роли наследуют права: super_admin > team_lead > member > read_only
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var rolePolicies = [][]string{
	{string(models.RoleReadOnly), string(ObjectChangeRequests), string(ActionRead)},
	{string(models.RoleReadOnly), string(ObjectHierarchy), string(ActionRead)},
	{string(models.RoleReadOnly), string(ObjectTeams), string(ActionRead)},
	{string(models.RoleReadOnly), string(ObjectAudit), string(ActionRead)},
	{string(models.RoleMember), string(ObjectChangeRequests), string(ActionSubmit)},
	{string(models.RoleTeamLead), string(ObjectHierarchy), string(ActionWrite)},
	{string(models.RoleSuperAdmin), string(ObjectChangeRequests), string(ActionDecide)},
}

var roleInheritance = [][]string{
	{string(models.RoleSuperAdmin), string(models.RoleTeamLead)},
	{string(models.RoleTeamLead), string(models.RoleMember)},
	{string(models.RoleMember), string(models.RoleReadOnly)},
}

// Enforcer проверяет права глобальных ролей через casbin
type Enforcer struct {
	e *casbin.Enforcer
}

// NewEnforcer собирает enforcer из встроенной модели и политики
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicies(rolePolicies); err != nil {
		return nil, fmt.Errorf("failed to load role policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(roleInheritance); err != nil {
		return nil, fmt.Errorf("failed to load role inheritance: %w", err)
	}
	return &Enforcer{e: e}, nil
}

// Allowed сообщает, разрешено ли роли действие над ресурсом
func (e *Enforcer) Allowed(role models.Role, obj Object, act Action) (bool, error) {
	if !role.Valid() {
		return false, nil
	}
	ok, err := e.e.Enforce(string(role), string(obj), string(act))
	if err != nil {
		return false, fmt.Errorf("failed to enforce policy: %w", err)
	}
	return ok, nil
}

// Require возвращает models.ErrForbidden, если роль пользователя не даёт права на действие
func (e *Enforcer) Require(actor models.Actor, obj Object, act Action) error {
	ok, err := e.Allowed(actor.Role, obj, act)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %s cannot %s %s", models.ErrForbidden, actor.Role, act, obj)
	}
	return nil
}
