package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
	"github.com/untibullet/teamhub/internal/repository/memory"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	repo   *memory.Repository
	engine *Engine

	admin     models.Actor
	lead      models.Actor
	requester models.Actor
	user      models.User

	teamA models.Team
	teamB models.Team
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	enforcer, err := authz.NewEnforcer()
	require.NoError(t, err)

	repo := memory.New()
	engine := New(repo, enforcer, zap.NewNop(), time.Second)
	engine.now = func() time.Time { return fixedNow }

	admin := repo.PutUser(models.User{FirstName: "Ada", LastName: "Admin", Email: "admin@example.com", Role: models.RoleSuperAdmin})
	lead := repo.PutUser(models.User{FirstName: "Lea", LastName: "Lead", Email: "lead@example.com", Role: models.RoleMember})
	requester := repo.PutUser(models.User{FirstName: "Rob", LastName: "Req", Email: "req@example.com", Role: models.RoleMember})
	user := repo.PutUser(models.User{FirstName: "Uma", LastName: "User", Email: "uma@example.com", Role: models.RoleMember})

	teamA := repo.PutTeam(models.Team{Name: "Alpha", Description: "A", LeadUserID: &lead.ID})
	teamB := repo.PutTeam(models.Team{Name: "Beta", Description: "B"})

	return &fixture{
		repo:      repo,
		engine:    engine,
		admin:     models.Actor{UserID: admin.ID, Role: admin.Role},
		lead:      models.Actor{UserID: lead.ID, Role: lead.Role},
		requester: models.Actor{UserID: requester.ID, Role: requester.Role},
		user:      user,
		teamA:     teamA,
		teamB:     teamB,
	}
}

func (f *fixture) submit(t *testing.T, typ models.RequestType, teamID, userID *uuid.UUID, details string) *models.ChangeRequest {
	t.Helper()
	cr, err := f.engine.Submit(context.Background(), f.requester, SubmitRequest{
		Type:    typ,
		TeamID:  teamID,
		UserID:  userID,
		Details: []byte(details),
	})
	require.NoError(t, err)
	return cr
}

func (f *fixture) memberships(t *testing.T, userID uuid.UUID) []models.MemberView {
	t.Helper()
	ms, err := f.repo.ListUserMemberships(context.Background(), userID)
	require.NoError(t, err)
	return ms
}

func (f *fixture) status(t *testing.T, id uuid.UUID) models.Status {
	t.Helper()
	cr, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return cr.Status
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	f := newFixture(t)

	cr := f.submit(t, models.RequestAddMember, &f.teamA.ID, &f.user.ID, "")

	assert.Equal(t, models.StatusPending, cr.Status)
	assert.Equal(t, f.requester.UserID, cr.RequesterID)
	assert.Nil(t, cr.ApproverID)
	assert.Nil(t, cr.ApprovedAt)
	assert.Empty(t, f.memberships(t, f.user.ID), "submission must not apply the change")

	count, err := f.engine.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"unknown type", SubmitRequest{Type: "rename_user"}},
		{"add_member without user", SubmitRequest{Type: models.RequestAddMember, TeamID: &f.teamA.ID}},
		{"create_team without description", SubmitRequest{Type: models.RequestCreateTeam, Details: []byte(`{"name":"X"}`)}},
		{"create_team blank name", SubmitRequest{Type: models.RequestCreateTeam, Details: []byte(`{"name":"  ","description":""}`)}},
		{"move_member missing move_date", SubmitRequest{
			Type:    models.RequestMoveMember,
			UserID:  &f.user.ID,
			Details: []byte(`{"from_team_id":"` + f.teamA.ID.String() + `","to_team_id":"` + f.teamB.ID.String() + `"}`),
		}},
		{"move_member same teams", SubmitRequest{
			Type:    models.RequestMoveMember,
			UserID:  &f.user.ID,
			Details: []byte(`{"from_team_id":"` + f.teamA.ID.String() + `","to_team_id":"` + f.teamA.ID.String() + `","move_date":"2024-07-01"}`),
		}},
		{"update_team without fields", SubmitRequest{Type: models.RequestUpdateTeam, TeamID: &f.teamA.ID, Details: []byte(`{}`)}},
		{"details not an object", SubmitRequest{Type: models.RequestCreateTeam, Details: []byte(`[1]`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(ctx, f.requester, tt.req)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	list, err := f.engine.List(ctx, models.ChangeRequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitForbiddenForReadOnly(t *testing.T) {
	f := newFixture(t)
	viewer := f.repo.PutUser(models.User{Email: "viewer@example.com", Role: models.RoleReadOnly})

	_, err := f.engine.Submit(context.Background(), models.Actor{UserID: viewer.ID, Role: viewer.Role}, SubmitRequest{
		Type:   models.RequestDeleteTeam,
		TeamID: &f.teamA.ID,
	})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSubmitUnknownTeam(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	_, err := f.engine.Submit(context.Background(), f.requester, SubmitRequest{
		Type:   models.RequestDeleteTeam,
		TeamID: &missing,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubmitMoveMemberDefaultsTeamToSource(t *testing.T) {
	f := newFixture(t)

	cr := f.submit(t, models.RequestMoveMember, nil, &f.user.ID,
		`{"from_team_id":"`+f.teamA.ID.String()+`","to_team_id":"`+f.teamB.ID.String()+`","move_date":"2024-07-01"}`)

	require.NotNil(t, cr.TeamID)
	assert.Equal(t, f.teamA.ID, *cr.TeamID)
}

func TestDecideTwiceFailsWithInvalidState(t *testing.T) {
	for _, first := range []models.Decision{models.DecisionApprove, models.DecisionReject} {
		t.Run(string(first), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			cr := f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"Gamma","description":""}`)

			_, err := f.engine.Decide(ctx, f.admin, cr.ID, first, nil)
			require.NoError(t, err)

			for _, second := range []models.Decision{models.DecisionApprove, models.DecisionReject} {
				_, err = f.engine.Decide(ctx, f.admin, cr.ID, second, nil)
				assert.ErrorIs(t, err, models.ErrInvalidState)
			}

			want := models.StatusApproved
			if first == models.DecisionReject {
				want = models.StatusRejected
			}
			assert.Equal(t, want, f.status(t, cr.ID))
		})
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Decide(context.Background(), f.admin, uuid.New(), models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDecideUnknownDecision(t *testing.T) {
	f := newFixture(t)
	cr := f.submit(t, models.RequestDeleteTeam, &f.teamB.ID, nil, "")

	_, err := f.engine.Decide(context.Background(), f.admin, cr.ID, "maybe", nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRejectAppliesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestAddMember, &f.teamA.ID, &f.user.ID, "")
	notes := "not this quarter"

	out, err := f.engine.Decide(ctx, f.lead, cr.ID, models.DecisionReject, &notes)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, out.Request.Status)
	require.NotNil(t, out.Request.ApproverID)
	assert.Equal(t, f.lead.UserID, *out.Request.ApproverID)
	require.NotNil(t, out.Request.ApprovedAt)
	assert.True(t, fixedNow.Equal(*out.Request.ApprovedAt))
	require.NotNil(t, out.Request.Notes)
	assert.Equal(t, notes, *out.Request.Notes)
	assert.Empty(t, f.memberships(t, f.user.ID))

	require.Len(t, out.Changes, 1)
	assert.Equal(t, "change_requests", out.Changes[0].Table)
}

func TestApproveAddMember(t *testing.T) {
	f := newFixture(t)
	cr := f.submit(t, models.RequestAddMember, &f.teamA.ID, &f.user.ID, "")

	out, err := f.engine.Decide(context.Background(), f.admin, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, out.Request.Status)

	ms := f.memberships(t, f.user.ID)
	require.Len(t, ms, 1)
	assert.True(t, ms[0].IsActive)
	assert.Equal(t, f.teamA.ID, ms[0].TeamID)
	assert.Equal(t, date(2024, 6, 15), ms[0].StartDate)
	assert.Nil(t, ms[0].EndDate)

	require.Len(t, out.Changes, 2)
	assert.Equal(t, "team_members", out.Changes[0].Table)
	assert.Equal(t, models.ActionInsert, out.Changes[0].Action)
}

func TestApproveAddMemberConflictLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutMembership(models.Membership{TeamID: f.teamB.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})
	cr := f.submit(t, models.RequestAddMember, &f.teamA.ID, &f.user.ID, "")

	_, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrConflict)

	assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
	ms := f.memberships(t, f.user.ID)
	require.Len(t, ms, 1)
	assert.Equal(t, f.teamB.ID, ms[0].TeamID)
}

func TestApproveRemoveMember(t *testing.T) {
	f := newFixture(t)
	f.repo.PutMembership(models.Membership{TeamID: f.teamA.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})
	cr := f.submit(t, models.RequestRemoveMember, &f.teamA.ID, &f.user.ID, "")

	_, err := f.engine.Decide(context.Background(), f.lead, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	ms := f.memberships(t, f.user.ID)
	require.Len(t, ms, 1)
	assert.False(t, ms[0].IsActive)
	require.NotNil(t, ms[0].EndDate)
	assert.Equal(t, date(2024, 6, 15), *ms[0].EndDate)
}

func TestApproveRemoveMemberWithoutMembership(t *testing.T) {
	f := newFixture(t)
	cr := f.submit(t, models.RequestRemoveMember, &f.teamA.ID, &f.user.ID, "")

	_, err := f.engine.Decide(context.Background(), f.admin, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
}

func TestApproveMoveMember(t *testing.T) {
	f := newFixture(t)
	f.repo.PutMembership(models.Membership{TeamID: f.teamA.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})
	cr := f.submit(t, models.RequestMoveMember, &f.teamA.ID, &f.user.ID,
		`{"from_team_id":"`+f.teamA.ID.String()+`","to_team_id":"`+f.teamB.ID.String()+`","move_date":"2024-07-01"}`)

	out, err := f.engine.Decide(context.Background(), f.lead, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)
	require.Len(t, out.Changes, 3)

	moveDate := date(2024, 7, 1)
	var old, current *models.MemberView
	ms := f.memberships(t, f.user.ID)
	for i := range ms {
		switch ms[i].TeamID {
		case f.teamA.ID:
			old = &ms[i]
		case f.teamB.ID:
			current = &ms[i]
		}
	}
	require.NotNil(t, old)
	require.NotNil(t, current)

	assert.False(t, old.IsActive)
	require.NotNil(t, old.EndDate)
	assert.Equal(t, moveDate, *old.EndDate)

	assert.True(t, current.IsActive)
	assert.Equal(t, moveDate, current.StartDate)
	assert.Nil(t, current.EndDate)
}

func TestApproveMoveMemberMissingTargetRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutMembership(models.Membership{TeamID: f.teamA.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})
	cr := f.submit(t, models.RequestMoveMember, &f.teamA.ID, &f.user.ID,
		`{"from_team_id":"`+f.teamA.ID.String()+`","to_team_id":"`+f.teamB.ID.String()+`","move_date":"2024-07-01"}`)

	require.NoError(t, f.repo.InTx(ctx, func(tx repository.Tx) error {
		return tx.DeleteTeam(ctx, f.teamB.ID)
	}))

	_, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
	ms := f.memberships(t, f.user.ID)
	require.Len(t, ms, 1)
	assert.Equal(t, f.teamA.ID, ms[0].TeamID)
	assert.True(t, ms[0].IsActive)
	assert.Nil(t, ms[0].EndDate)
}

func TestApproveCreateTeamScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"Platform","description":"Infra team"}`)

	out, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, out.Request.Status)
	require.NotNil(t, out.Request.ApproverID)
	assert.Equal(t, f.admin.UserID, *out.Request.ApproverID)

	teams, err := f.repo.ListTeamSummaries(ctx)
	require.NoError(t, err)
	var found *models.TeamSummary
	for i := range teams {
		if teams[i].Name == "Platform" {
			found = &teams[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Infra team", found.Description)
}

func TestApproveCreateTeamDuplicateName(t *testing.T) {
	f := newFixture(t)
	cr := f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"Alpha","description":""}`)

	_, err := f.engine.Decide(context.Background(), f.admin, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
}

func TestApproveUpdateTeamCoalesces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestUpdateTeam, &f.teamA.ID, nil, `{"name":"Alpha Prime"}`)

	out, err := f.engine.Decide(ctx, f.lead, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	team, err := f.repo.GetTeam(ctx, f.teamA.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", team.Name)
	assert.Equal(t, "A", team.Description)

	before, ok := out.Changes[0].Old.(*models.Team)
	require.True(t, ok)
	assert.Equal(t, "Alpha", before.Name)
}

func TestApproveDeleteTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestDeleteTeam, &f.teamB.ID, nil, "")

	_, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	_, err = f.repo.GetTeam(ctx, f.teamB.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.StatusApproved, f.status(t, cr.ID))
}

func TestApproveDeleteTeamWithMembersAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutMembership(models.Membership{TeamID: f.teamB.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})
	cr := f.submit(t, models.RequestDeleteTeam, &f.teamB.ID, nil, "")

	_, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.repo.GetTeam(ctx, f.teamB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
}

func TestApproveDeleteTeamAfterMembershipEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.PutMembership(models.Membership{TeamID: f.teamB.ID, UserID: f.user.ID, StartDate: date(2023, 1, 1), IsActive: true})

	remove := f.submit(t, models.RequestRemoveMember, &f.teamB.ID, &f.user.ID, "")
	_, err := f.engine.Decide(ctx, f.admin, remove.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	del := f.submit(t, models.RequestDeleteTeam, &f.teamB.ID, nil, "")
	_, err = f.engine.Decide(ctx, f.admin, del.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	_, err = f.repo.GetTeam(ctx, f.teamB.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRedecideDeletedTeamRequestByLead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestDeleteTeam, &f.teamA.ID, nil, "")

	_, err := f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, cr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TeamID)
	assert.Equal(t, f.teamA.ID, *got.TeamID)

	_, err = f.engine.Decide(ctx, f.lead, cr.ID, models.DecisionReject, nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.NotErrorIs(t, err, models.ErrForbidden)
}

func TestDecideAuthorizationByRole(t *testing.T) {
	tests := []struct {
		role    models.Role
		allowed bool
	}{
		{models.RoleSuperAdmin, true},
		{models.RoleTeamLead, false},
		{models.RoleMember, false},
		{models.RoleReadOnly, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			f := newFixture(t)
			// Пользователь с ролью, но не лид команды Alpha
			outsider := f.repo.PutUser(models.User{Email: string(tt.role) + "@example.com", Role: tt.role})
			actor := models.Actor{UserID: outsider.ID, Role: outsider.Role}
			cr := f.submit(t, models.RequestUpdateTeam, &f.teamA.ID, nil, `{"description":"new"}`)

			_, err := f.engine.Decide(context.Background(), actor, cr.ID, models.DecisionApprove, nil)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, models.StatusApproved, f.status(t, cr.ID))
				return
			}
			assert.ErrorIs(t, err, models.ErrForbidden)
			assert.Equal(t, models.StatusPending, f.status(t, cr.ID))
		})
	}
}

func TestDecideByTeamLeadOfAnyRole(t *testing.T) {
	for _, role := range []models.Role{models.RoleTeamLead, models.RoleMember, models.RoleReadOnly} {
		t.Run(string(role), func(t *testing.T) {
			f := newFixture(t)
			lead := f.repo.PutUser(models.User{Email: "owner@example.com", Role: role})
			team := f.repo.PutTeam(models.Team{Name: "Owned", LeadUserID: &lead.ID})
			cr := f.submit(t, models.RequestUpdateTeam, &team.ID, nil, `{"description":"new"}`)

			_, err := f.engine.Decide(context.Background(), models.Actor{UserID: lead.ID, Role: role}, cr.ID, models.DecisionReject, nil)
			require.NoError(t, err)
		})
	}
}

func TestDecideLeadCannotDecideRequestWithoutTeam(t *testing.T) {
	f := newFixture(t)
	cr := f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"Gamma","description":""}`)

	_, err := f.engine.Decide(context.Background(), f.lead, cr.ID, models.DecisionApprove, nil)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestConcurrentDecisionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := f.submit(t, models.RequestAddMember, &f.teamA.ID, &f.user.ID, "")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Decide(ctx, f.admin, cr.ID, models.DecisionApprove, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.memberships(t, f.user.ID), 1)
}

func TestListByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"One","description":""}`)
	f.submit(t, models.RequestCreateTeam, nil, nil, `{"name":"Two","description":""}`)

	_, err := f.engine.Decide(ctx, f.admin, first.ID, models.DecisionReject, nil)
	require.NoError(t, err)

	pending, err := f.engine.ListByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var details map[string]string
	require.NoError(t, json.Unmarshal(pending[0].Details, &details))
	assert.Equal(t, "Two", details["name"])

	rejected, err := f.engine.ListByStatus(ctx, models.StatusRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, first.ID, rejected[0].ID)

	_, err = f.engine.ListByStatus(ctx, "archived")
	assert.ErrorIs(t, err, models.ErrValidation)

	count, err := f.engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
