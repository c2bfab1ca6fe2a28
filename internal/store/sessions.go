package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumia-chat/sentinel/internal/models"
)

var ErrSessionNotFound = errors.New("user session not found")

// SessionStore is the narrow window onto the host's session table: the
// recovery detector reads a user's live state and writes back exactly one
// thing, the designated safe state.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get loads one user's session.
func (s *SessionStore) Get(ctx context.Context, userID int64) (*models.UserSession, error) {
	var session models.UserSession
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load user session: %w", err)
	}
	return &session, nil
}

// ResetState moves the user back to the target state.
func (s *SessionStore) ResetState(ctx context.Context, userID int64, targetState string) error {
	err := s.db.WithContext(ctx).Model(&models.UserSession{}).
		Where("user_id = ?", userID).
		Update("state", targetState).Error
	if err != nil {
		return fmt.Errorf("failed to reset user state: %w", err)
	}
	return nil
}
