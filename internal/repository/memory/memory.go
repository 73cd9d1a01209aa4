// Package memory хранит данные в памяти процесса и повторяет ограничения
// схемы PostgreSQL: уникальность, внешние ключи, каскады. Используется в тестах
// и при storage.driver = memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
)

type state struct {
	users       map[uuid.UUID]models.User
	teams       map[uuid.UUID]models.Team
	memberships []models.Membership
	edges       []models.HierarchyEdge
	requests    []models.ChangeRequest
	audit       []models.AuditEntry
	auditSeq    int64
}

func newState() *state {
	return &state{
		users: make(map[uuid.UUID]models.User),
		teams: make(map[uuid.UUID]models.Team),
	}
}

// clone копирует состояние для транзакции. Записи заменяются целиком,
// поэтому достаточно поверхностной копии.
func (s *state) clone() *state {
	c := &state{
		users:       make(map[uuid.UUID]models.User, len(s.users)),
		teams:       make(map[uuid.UUID]models.Team, len(s.teams)),
		memberships: append([]models.Membership(nil), s.memberships...),
		edges:       append([]models.HierarchyEdge(nil), s.edges...),
		requests:    append([]models.ChangeRequest(nil), s.requests...),
		audit:       append([]models.AuditEntry(nil), s.audit...),
		auditSeq:    s.auditSeq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	return c
}

// Repository хранилище в памяти. Транзакции выполняются последовательно
// над копией состояния и публикуются только при успешном завершении.
type Repository struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

var _ repository.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен
func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Close() {}

// InTx выполняет fn над копией состояния; ошибка отбрасывает копию
func (r *Repository) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	work := r.st.clone()
	if err := fn(&memTx{st: work, now: r.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.st = work
	return nil
}

// PutUser сохраняет пользователя напрямую, минуя заявки. Нужен для начального наполнения.
func (r *Repository) PutUser(u models.User) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	now := r.now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.st.users[u.ID] = u
	return u
}

// PutTeam сохраняет команду напрямую, минуя заявки
func (r *Repository) PutTeam(t models.Team) models.Team {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.st.teams[t.ID] = t
	return t
}

// PutMembership сохраняет участие без проверки ограничений
func (r *Repository) PutMembership(m models.Membership) models.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := r.now()
	m.CreatedAt, m.UpdatedAt = now, now
	r.st.memberships = append(r.st.memberships, m)
	return m
}

// PutEdge добавляет связь иерархии без проверки циклов
func (r *Repository) PutEdge(parentID, childID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.st.edges = append(r.st.edges, models.HierarchyEdge{
		ParentTeamID: parentID,
		ChildTeamID:  childID,
		CreatedAt:    r.now(),
	})
}

// CreateChangeRequest сохраняет новую заявку в статусе pending
func (r *Repository) CreateChangeRequest(ctx context.Context, cr models.ChangeRequest) (*models.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.st.users[cr.RequesterID]; !ok {
		return nil, fmt.Errorf("failed to create change request: %w: requester does not exist", models.ErrConflict)
	}
	if cr.TeamID != nil {
		if _, ok := r.st.teams[*cr.TeamID]; !ok {
			return nil, fmt.Errorf("failed to create change request: %w: team does not exist", models.ErrConflict)
		}
	}
	if cr.UserID != nil {
		if _, ok := r.st.users[*cr.UserID]; !ok {
			return nil, fmt.Errorf("failed to create change request: %w: user does not exist", models.ErrConflict)
		}
	}

	now := r.now()
	cr.ID = uuid.New()
	cr.Status = models.StatusPending
	cr.ApproverID, cr.ApprovedAt = nil, nil
	cr.CreatedAt, cr.UpdatedAt = now, now
	if len(cr.Details) == 0 {
		cr.Details = json.RawMessage(`{}`)
	}
	r.st.requests = append(r.st.requests, cr)
	return &cr, nil
}

// GetChangeRequest получает заявку по ID
func (r *Repository) GetChangeRequest(ctx context.Context, id uuid.UUID) (*models.ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.st.requestIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("failed to get change request: %w", models.ErrNotFound)
	}
	cr := r.st.requests[i]
	return &cr, nil
}

// ListChangeRequests возвращает заявки, новые первыми
func (r *Repository) ListChangeRequests(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requests := make([]models.ChangeRequest, 0)
	// Обход с конца даёт порядок "новые первыми" при равных created_at
	for i := len(r.st.requests) - 1; i >= 0; i-- {
		cr := r.st.requests[i]
		if filter.Status != nil && cr.Status != *filter.Status {
			continue
		}
		requests = append(requests, cr)
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	if filter.Limit > 0 && len(requests) > filter.Limit {
		requests = requests[:filter.Limit]
	}
	return requests, nil
}

// CountChangeRequests считает заявки в указанном статусе
func (r *Repository) CountChangeRequests(ctx context.Context, status models.Status) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, cr := range r.st.requests {
		if cr.Status == status {
			count++
		}
	}
	return count, nil
}

// ListTeamSummaries возвращает все команды с количеством активных участников
func (r *Repository) ListTeamSummaries(ctx context.Context) ([]models.TeamSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[uuid.UUID]int)
	for _, m := range r.st.memberships {
		if m.IsActive {
			counts[m.TeamID]++
		}
	}

	summaries := make([]models.TeamSummary, 0, len(r.st.teams))
	for _, t := range r.st.sortedTeams() {
		summaries = append(summaries, models.TeamSummary{Team: t, MemberCount: counts[t.ID]})
	}
	return summaries, nil
}

// GetTeam получает команду по ID
func (r *Repository) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return (&memTx{st: r.st}).GetTeam(ctx, id)
}

// GetUser получает пользователя по ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return (&memTx{st: r.st}).GetUser(ctx, id)
}

// ListTeamMembers возвращает активных участников команды
func (r *Repository) ListTeamMembers(ctx context.Context, teamID uuid.UUID) ([]models.MemberView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]models.MemberView, 0)
	for _, m := range r.st.memberships {
		if m.TeamID == teamID && m.IsActive {
			members = append(members, r.st.memberView(m))
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].LastName != members[j].LastName {
			return members[i].LastName < members[j].LastName
		}
		return members[i].FirstName < members[j].FirstName
	})
	return members, nil
}

// ListUserMemberships возвращает историю участий пользователя, новые первыми
func (r *Repository) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]models.MemberView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]models.MemberView, 0)
	for i := len(r.st.memberships) - 1; i >= 0; i-- {
		if m := r.st.memberships[i]; m.UserID == userID {
			members = append(members, r.st.memberView(m))
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].StartDate.After(members[j].StartDate)
	})
	return members, nil
}

// InsertAudit добавляет записи в журнал аудита
func (r *Repository) InsertAudit(ctx context.Context, entries []models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, e := range entries {
		r.st.auditSeq++
		e.ID = r.st.auditSeq
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		r.st.audit = append(r.st.audit, e)
	}
	return nil
}

// ListAudit возвращает записи журнала по фильтру, новые первыми
func (r *Repository) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.AuditEntry, 0)
	for i := len(r.st.audit) - 1; i >= 0; i-- {
		e := r.st.audit[i]
		switch {
		case filter.TableName != "" && e.TableName != filter.TableName:
			continue
		case filter.RecordID != "" && e.RecordID != filter.RecordID:
			continue
		case filter.UserID != nil && (e.UserID == nil || *e.UserID != *filter.UserID):
			continue
		case filter.From != nil && e.Timestamp.Before(*filter.From):
			continue
		case filter.To != nil && e.Timestamp.After(*filter.To):
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// AuditSummary агрегирует журнал по таблице и действию
func (r *Repository) AuditSummary(ctx context.Context) ([]models.AuditSummaryRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct{ table, action string }
	rows := make(map[key]*models.AuditSummaryRow)
	for _, e := range r.st.audit {
		k := key{e.TableName, e.Action}
		row, ok := rows[k]
		if !ok {
			row = &models.AuditSummaryRow{TableName: e.TableName, Action: e.Action, FirstAction: e.Timestamp, LastAction: e.Timestamp}
			rows[k] = row
		}
		row.Count++
		if e.Timestamp.Before(row.FirstAction) {
			row.FirstAction = e.Timestamp
		}
		if e.Timestamp.After(row.LastAction) {
			row.LastAction = e.Timestamp
		}
	}

	summary := make([]models.AuditSummaryRow, 0, len(rows))
	for _, row := range rows {
		summary = append(summary, *row)
	}
	sort.Slice(summary, func(i, j int) bool {
		if summary[i].TableName != summary[j].TableName {
			return summary[i].TableName < summary[j].TableName
		}
		return summary[i].Action < summary[j].Action
	})
	return summary, nil
}

func (s *state) requestIndex(id uuid.UUID) int {
	for i := range s.requests {
		if s.requests[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *state) sortedTeams() []models.Team {
	teams := make([]models.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams
}

func (s *state) memberView(m models.Membership) models.MemberView {
	u := s.users[m.UserID]
	return models.MemberView{
		Membership: m,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		Role:       u.Role,
		TeamName:   s.teams[m.TeamID].Name,
	}
}
