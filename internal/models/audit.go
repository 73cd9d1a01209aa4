package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Действия аудита
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// RowChange изменение одной строки, которое вызывающая сторона пишет в журнал аудита
type RowChange struct {
	Table    string
	RecordID string
	Action   string
	Old      any
	New      any
	Summary  string
}

// AuditEntry запись журнала аудита
type AuditEntry struct {
	ID        int64           `json:"id"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    string          `json:"action"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Summary   string          `json:"summary"`
	Timestamp time.Time       `json:"timestamp"`
}

// AuditFilter параметры выборки журнала аудита
type AuditFilter struct {
	TableName string
	RecordID  string
	UserID    *uuid.UUID
	From      *time.Time
	To        *time.Time
	Limit     int
}

// AuditSummaryRow агрегат по паре таблица/действие
type AuditSummaryRow struct {
	TableName   string    `json:"table_name"`
	Action      string    `json:"action"`
	Count       int64     `json:"count"`
	FirstAction time.Time `json:"first_action"`
	LastAction  time.Time `json:"last_action"`
}
