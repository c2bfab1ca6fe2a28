package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Trace is one persisted request trace: a handful of timed spans plus the
// user/command/state snapshot at the time the request started. Written once
// when the request finishes; read-only input for the unstick detector and the
// latency report.
type Trace struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TraceID   string         `gorm:"size:12;not null;index" json:"trace_id"`
	UserID    int64          `gorm:"not null;index" json:"user_id"`
	Command   string         `gorm:"size:100" json:"command"`
	State     string         `gorm:"size:100" json:"state"`
	Spans     datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"spans"`
	TotalMs   int            `gorm:"not null" json:"total_ms"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Trace) TableName() string {
	return "traces"
}
