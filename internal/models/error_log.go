package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity tags assigned by the classifier. They decide which detector, if
// any, is allowed to act on an error signature.
const (
	SeverityL1 = "L1" // auto-recoverable, L1 unstick territory
	SeverityL2 = "L2" // repeating code bug, auto-fix candidate
	SeverityL3 = "L3" // systemic, alert and possibly restart
	SeverityL4 = "L4" // human intervention required
)

// Categories group error signatures by the host subsystem they point at.
const (
	CategoryFlow         = "flow"          // conversation state machine
	CategoryLLMAPI       = "llm_api"       // LLM provider calls
	CategoryMessagingAPI = "messaging_api" // chat platform delivery
	CategoryKnowledge    = "knowledge"     // knowledge/tool backend
	CategoryScheduler    = "scheduler"     // background jobs
	CategoryDB           = "db"            // database and pool
	CategoryUnknown      = "unknown"
)

// ErrorLog is one deduplicated error signature. Repeats of the same ErrorKey
// inside the coalescing window bump OccurrenceCount instead of creating rows.
type ErrorLog struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ErrorKey        string    `gorm:"size:16;not null;index" json:"error_key"`
	Level           string    `gorm:"size:10;not null" json:"level"`
	LoggerName      string    `gorm:"size:100;not null;index" json:"logger_name"`
	Message         string    `gorm:"type:text" json:"message"`
	Traceback       string    `gorm:"type:text" json:"traceback"`
	TraceID         string    `gorm:"size:12" json:"trace_id"`
	UserID          *int64    `gorm:"index" json:"user_id"`
	Command         string    `gorm:"size:100" json:"command"`
	State           string    `gorm:"size:100" json:"state"`
	OccurrenceCount int       `gorm:"not null;default:1" json:"occurrence_count"`
	FirstSeenAt     time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt      time.Time `gorm:"not null;index" json:"last_seen_at"`
	Alerted         bool      `gorm:"not null;default:false" json:"alerted"`
	Escalated       bool      `gorm:"not null;default:false" json:"escalated"`
	Category        string    `gorm:"size:50" json:"category"`
	SeverityTag     string    `gorm:"size:4;index" json:"severity_tag"`
	SuggestedAction string    `gorm:"size:255" json:"suggested_action"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ErrorLog) TableName() string {
	return "error_logs"
}
