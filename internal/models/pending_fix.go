package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PendingFix lifecycle. Terminal statuses (applied, rejected, failed) are
// immutable apart from retention deletion.
const (
	FixStatusPending  = "pending"
	FixStatusApproved = "approved"
	FixStatusApplied  = "applied"
	FixStatusRejected = "rejected"
	FixStatusFailed   = "failed"
)

// FixStatusTerminal reports whether a status ends the fix lifecycle.
func FixStatusTerminal(status string) bool {
	switch status {
	case FixStatusApplied, FixStatusRejected, FixStatusFailed:
		return true
	}
	return false
}

// PendingFix is a proposed automated code change awaiting human approval.
// Quality holds the per-dimension review scores returned by the diagnosis
// together with the aggregate and the weakest dimension.
type PendingFix struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ErrorLogID     uuid.UUID      `gorm:"type:uuid;not null" json:"error_log_id"`
	ErrorKey       string         `gorm:"size:16;not null;index" json:"error_key"`
	Diagnosis      string         `gorm:"type:text" json:"diagnosis"`
	FilePath       string         `gorm:"size:255;not null" json:"file_path"`
	OriginalCode   string         `gorm:"type:text" json:"original_code"`
	FixedCode      string         `gorm:"type:text" json:"fixed_code"`
	DiffSummary    string         `gorm:"size:500" json:"diff_summary"`
	Confidence     string         `gorm:"size:10" json:"confidence"`
	Quality        datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"quality"`
	NotificationID string         `gorm:"size:50" json:"notification_id"`
	Status         string         `gorm:"size:16;not null;default:'pending';index" json:"status"`
	BranchName     string         `gorm:"size:100" json:"branch_name"`
	PRURL          string         `gorm:"size:255" json:"pr_url"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
}

func (PendingFix) TableName() string {
	return "pending_fixes"
}
