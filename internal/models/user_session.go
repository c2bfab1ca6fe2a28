package models

import "time"

// UserSession is the slice of the host's session store this subsystem reads
// and resets. State mirrors the conversation state machine; the unstick
// detector only ever writes the designated safe state back.
type UserSession struct {
	UserID      int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	State       string    `gorm:"size:100" json:"state"`
	Blocked     bool      `gorm:"not null;default:false" json:"blocked"`
	Deactivated bool      `gorm:"not null;default:false" json:"deactivated"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (UserSession) TableName() string {
	return "user_sessions"
}
