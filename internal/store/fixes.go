package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumia-chat/sentinel/internal/models"
)

var (
	ErrFixNotFound  = errors.New("pending fix not found")
	ErrFixFinalized = errors.New("pending fix already finalized")
)

var terminalStatuses = []string{
	models.FixStatusApplied,
	models.FixStatusRejected,
	models.FixStatusFailed,
}

// FixStore owns all reads and writes against pending_fixes.
type FixStore struct {
	db *gorm.DB
}

func NewFixStore(db *gorm.DB) *FixStore {
	return &FixStore{db: db}
}

// Create persists a new proposal in pending state.
func (s *FixStore) Create(ctx context.Context, fix *models.PendingFix) error {
	if err := s.db.WithContext(ctx).Create(fix).Error; err != nil {
		return fmt.Errorf("failed to create pending fix: %w", err)
	}
	return nil
}

// GetByID loads one fix.
func (s *FixStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingFix, error) {
	var fix models.PendingFix
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&fix).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFixNotFound
		}
		return nil, fmt.Errorf("failed to load pending fix: %w", err)
	}
	return &fix, nil
}

// UpdateStatus moves a fix to a new status, recording resolved_at when the
// status is terminal and keeping existing pr_url/branch_name unless new
// values are supplied. Terminal rows are never modified: the update is
// guarded in the WHERE clause so a finalized fix cannot transition again.
func (s *FixStore) UpdateStatus(ctx context.Context, id uuid.UUID, status, prURL, branchName string) error {
	updates := map[string]interface{}{"status": status}
	if prURL != "" {
		updates["pr_url"] = prURL
	}
	if branchName != "" {
		updates["branch_name"] = branchName
	}
	if models.FixStatusTerminal(status) {
		updates["resolved_at"] = time.Now().UTC()
	}

	result := s.db.WithContext(ctx).Model(&models.PendingFix{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update fix status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.PendingFix{}).
			Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check fix existence: %w", err)
		}
		if count == 0 {
			return ErrFixNotFound
		}
		return ErrFixFinalized
	}
	return nil
}

// SetNotificationID records the notifier message that presented this fix.
func (s *FixStore) SetNotificationID(ctx context.Context, id uuid.UUID, notificationID string) error {
	err := s.db.WithContext(ctx).Model(&models.PendingFix{}).
		Where("id = ?", id).
		Update("notification_id", notificationID).Error
	if err != nil {
		return fmt.Errorf("failed to set notification id: %w", err)
	}
	return nil
}

// ListRecent returns the newest fixes for the ops view.
func (s *FixStore) ListRecent(ctx context.Context, limit int) ([]models.PendingFix, error) {
	var fixes []models.PendingFix
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&fixes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending fixes: %w", err)
	}
	return fixes, nil
}

// DeleteResolvedOlderThan purges terminal fixes resolved before the given age
// and returns the number of rows removed.
func (s *FixStore) DeleteResolvedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	result := s.db.WithContext(ctx).
		Where("status IN ? AND resolved_at < ?", terminalStatuses, cutoff).
		Delete(&models.PendingFix{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge resolved fixes: %w", result.Error)
	}
	return result.RowsAffected, nil
}
