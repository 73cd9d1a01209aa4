// Package audit пишет изменения строк в журнал аудита: значения до и после
// и JSON Patch между ними.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"
)

// Store журнал аудита
type Store interface {
	InsertAudit(ctx context.Context, entries []models.AuditEntry) error
}

// Recorder превращает изменения строк в записи журнала
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

// Record сохраняет все изменения одним пакетом от имени actorID
func (r *Recorder) Record(ctx context.Context, actorID uuid.UUID, changes []models.RowChange) error {
	if len(changes) == 0 {
		return nil
	}

	ts := r.now().UTC()
	entries := make([]models.AuditEntry, 0, len(changes))
	for _, c := range changes {
		entry, err := BuildEntry(actorID, c)
		if err != nil {
			return err
		}
		entry.Timestamp = ts
		entries = append(entries, entry)
	}

	if err := r.store.InsertAudit(ctx, entries); err != nil {
		return fmt.Errorf("failed to record audit entries: %w", err)
	}

	r.logger.Debug("audit entries recorded",
		zap.String("actor_id", actorID.String()),
		zap.Int("count", len(entries)))
	return nil
}

// BuildEntry сериализует значения до и после и считает патч между ними.
// Отсутствующая сторона (вставка или удаление) считается пустым объектом.
func BuildEntry(actorID uuid.UUID, c models.RowChange) (models.AuditEntry, error) {
	oldValues, err := marshalValues(c.Old)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to marshal old values of %s/%s: %w", c.Table, c.RecordID, err)
	}
	newValues, err := marshalValues(c.New)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to marshal new values of %s/%s: %w", c.Table, c.RecordID, err)
	}

	patch, err := diff(oldValues, newValues)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to diff %s/%s: %w", c.Table, c.RecordID, err)
	}

	entry := models.AuditEntry{
		TableName: c.Table,
		RecordID:  c.RecordID,
		Action:    c.Action,
		OldValues: oldValues,
		NewValues: newValues,
		Patch:     patch,
		Summary:   c.Summary,
	}
	if actorID != uuid.Nil {
		id := actorID
		entry.UserID = &id
	}
	return entry, nil
}

func marshalValues(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func diff(oldValues, newValues json.RawMessage) (json.RawMessage, error) {
	source, target := []byte(oldValues), []byte(newValues)
	if source == nil {
		source = []byte("{}")
	}
	if target == nil {
		target = []byte("{}")
	}

	patch, err := jsondiff.CompareJSON(source, target)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, nil
	}
	return json.Marshal(patch)
}
