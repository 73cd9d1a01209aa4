package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository/memory"
	"go.uber.org/zap"
)

func TestBuildEntryPatchTransformsOldIntoNew(t *testing.T) {
	before := models.Team{ID: uuid.New(), Name: "Alpha", Description: "A"}
	after := before
	after.Name = "Alpha Prime"

	entry, err := BuildEntry(uuid.New(), models.RowChange{
		Table:    "teams",
		RecordID: before.ID.String(),
		Action:   models.ActionUpdate,
		Old:      &before,
		New:      &after,
		Summary:  "updated team Alpha Prime",
	})
	require.NoError(t, err)
	require.NotNil(t, entry.UserID)

	patch, err := jsonpatch.DecodePatch(entry.Patch)
	require.NoError(t, err)
	applied, err := patch.Apply(entry.OldValues)
	require.NoError(t, err)
	assert.JSONEq(t, string(entry.NewValues), string(applied))
	assert.Contains(t, string(entry.Patch), `"/name"`)
}

func TestBuildEntryInsertAndDelete(t *testing.T) {
	team := models.Team{ID: uuid.New(), Name: "Gamma"}

	inserted, err := BuildEntry(uuid.Nil, models.RowChange{Table: "teams", Action: models.ActionInsert, New: team})
	require.NoError(t, err)
	assert.Nil(t, inserted.OldValues)
	assert.Nil(t, inserted.UserID)
	assert.NotEmpty(t, inserted.Patch)

	deleted, err := BuildEntry(uuid.New(), models.RowChange{Table: "teams", Action: models.ActionDelete, Old: &team})
	require.NoError(t, err)
	assert.Nil(t, deleted.NewValues)

	patch, err := jsonpatch.DecodePatch(deleted.Patch)
	require.NoError(t, err)
	applied, err := patch.Apply(deleted.OldValues)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(applied))
}

func TestBuildEntryUnchanged(t *testing.T) {
	team := models.Team{ID: uuid.New(), Name: "Same"}

	entry, err := BuildEntry(uuid.New(), models.RowChange{Table: "teams", Action: models.ActionUpdate, Old: team, New: team})
	require.NoError(t, err)
	assert.Nil(t, entry.Patch)
}

func TestRecorderStoresEntries(t *testing.T) {
	repo := memory.New()
	rec := NewRecorder(repo, zap.NewNop())
	fixed := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }
	actor := uuid.New()

	err := rec.Record(context.Background(), actor, []models.RowChange{
		{Table: "teams", RecordID: "1", Action: models.ActionInsert, New: map[string]string{"name": "A"}},
		{Table: "change_requests", RecordID: "2", Action: models.ActionUpdate, Old: map[string]string{"status": "pending"}, New: map[string]string{"status": "approved"}},
	})
	require.NoError(t, err)

	entries, err := repo.ListAudit(context.Background(), models.AuditFilter{UserID: &actor})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, fixed, e.Timestamp)
	}

	var ops []map[string]any
	for _, e := range entries {
		if e.TableName == "change_requests" {
			require.NoError(t, json.Unmarshal(e.Patch, &ops))
		}
	}
	require.Len(t, ops, 1)
	assert.Equal(t, "replace", ops[0]["op"])
	assert.Equal(t, "/status", ops[0]["path"])
}

type failingStore struct{}

func (failingStore) InsertAudit(context.Context, []models.AuditEntry) error {
	return errors.New("disk full")
}

func TestRecorderPropagatesStoreError(t *testing.T) {
	rec := NewRecorder(failingStore{}, zap.NewNop())

	err := rec.Record(context.Background(), uuid.New(), []models.RowChange{{Table: "teams", Action: models.ActionInsert, New: 1}})
	assert.ErrorContains(t, err, "disk full")
}
