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

// severityOrder surfaces the most urgent rows first when a query is capped.
const severityOrder = "CASE severity_tag WHEN 'L4' THEN 1 WHEN 'L3' THEN 2 WHEN 'L2' THEN 3 WHEN 'L1' THEN 4 ELSE 5 END"

// exhaustionPatterns match messages that indicate the connection pool itself
// is drowning. A lone "connection refused" from one flaky dependency is
// deliberately not here: it alerts, it does not restart the service.
var exhaustionPatterns = []string{
	"%too many connections%",
	"%pool%exhaust%",
	"%connection pool%",
}

// ErrorStore owns all reads and writes against error_logs.
type ErrorStore struct {
	db *gorm.DB
}

func NewErrorStore(db *gorm.DB) *ErrorStore {
	return &ErrorStore{db: db}
}

// UpsertError coalesces an incoming signature into the newest same-key row
// that was last seen inside the window, or inserts a fresh row. Two flushers
// racing on a brand-new key can produce two rows; both stay valid and no
// occurrence is ever lost.
func (s *ErrorStore) UpsertError(ctx context.Context, entry *models.ErrorLog, window time.Duration) error {
	cutoff := time.Now().UTC().Add(-window)

	var existing models.ErrorLog
	err := s.db.WithContext(ctx).
		Where("error_key = ? AND last_seen_at > ?", entry.ErrorKey, cutoff).
		Order("last_seen_at DESC").
		First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up error signature: %w", err)
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			return fmt.Errorf("failed to insert error log: %w", err)
		}
		return nil
	}

	updates := map[string]interface{}{
		"occurrence_count": gorm.Expr("occurrence_count + ?", entry.OccurrenceCount),
		"last_seen_at":     entry.LastSeenAt,
		"level":            entry.Level,
		"message":          entry.Message,
		"traceback":        entry.Traceback,
		"trace_id":         entry.TraceID,
		"command":          entry.Command,
		"state":            entry.State,
	}
	if entry.UserID != nil {
		updates["user_id"] = *entry.UserID
	}

	result := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("id = ?", existing.ID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to refresh error signature: %w", result.Error)
	}
	return nil
}

// UserErrorCount is one user's weighted error volume inside a window.
type UserErrorCount struct {
	UserID    int64  `gorm:"column:user_id"`
	Count     int64  `gorm:"column:count"`
	LastError string `gorm:"column:last_error"`
}

// UsersWithErrors returns users whose summed occurrence counts inside the
// window reach the threshold. Deduplicated rows count with their full weight,
// so three repeats of one signature still flag the user.
func (s *ErrorStore) UsersWithErrors(ctx context.Context, window time.Duration, threshold int) ([]UserErrorCount, error) {
	cutoff := time.Now().UTC().Add(-window)

	var rows []UserErrorCount
	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Select("user_id, SUM(occurrence_count) AS count, MAX(message) AS last_error").
		Where("user_id IS NOT NULL AND user_id <> 0 AND last_seen_at > ?", cutoff).
		Group("user_id").
		Having("SUM(occurrence_count) >= ?", threshold).
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query users with errors: %w", err)
	}
	return rows, nil
}

// FixCandidates returns auto-fix-tagged signatures that repeated enough inside
// the window, have a traceback to work from, and are not already covered by a
// pending, approved, or applied fix for the same key. An applied fix awaiting
// merge still blocks re-proposal.
func (s *ErrorStore) FixCandidates(ctx context.Context, window time.Duration, minCount, limit int) ([]models.ErrorLog, error) {
	cutoff := time.Now().UTC().Add(-window)

	active := s.db.Model(&models.PendingFix{}).
		Select("error_key").
		Where("status IN ?", []string{models.FixStatusPending, models.FixStatusApproved, models.FixStatusApplied})

	var rows []models.ErrorLog
	err := s.db.WithContext(ctx).
		Where("severity_tag = ? AND occurrence_count >= ? AND last_seen_at > ?", models.SeverityL2, minCount, cutoff).
		Where("traceback <> ''").
		Where("error_key NOT IN (?)", active).
		Order("occurrence_count DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query fix candidates: %w", err)
	}
	return rows, nil
}

// DistinctKeyCount counts distinct error signatures seen inside the window.
func (s *ErrorStore) DistinctKeyCount(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("last_seen_at > ?", cutoff).
		Distinct("error_key").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct error keys: %w", err)
	}
	return count, nil
}

// HasExhaustionPattern reports whether any systemic-tagged error inside the
// window looks like connection-pool exhaustion.
func (s *ErrorStore) HasExhaustionPattern(ctx context.Context, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)

	query := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("severity_tag = ? AND last_seen_at > ?", models.SeverityL3, cutoff)

	patterns := s.db.Where("message ILIKE ?", exhaustionPatterns[0])
	for _, p := range exhaustionPatterns[1:] {
		patterns = patterns.Or("message ILIKE ?", p)
	}

	var count int64
	if err := query.Where(patterns).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check exhaustion patterns: %w", err)
	}
	return count > 0, nil
}

// Unclassified returns rows the classifier has not categorized yet, newest
// first. Unknown rows keep an empty severity tag, so the filter has to be on
// category or they would be re-picked every cycle.
func (s *ErrorStore) Unclassified(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	var rows []models.ErrorLog
	err := s.db.WithContext(ctx).
		Where("category = '' OR category IS NULL").
		Order("last_seen_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unclassified errors: %w", err)
	}
	return rows, nil
}

// ApplyClassification stamps one row with the classifier verdict.
func (s *ErrorStore) ApplyClassification(ctx context.Context, id uuid.UUID, category, severityTag, suggestedAction string) error {
	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"category":         category,
			"severity_tag":     severityTag,
			"suggested_action": suggestedAction,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to apply classification: %w", err)
	}
	return nil
}

// Unalerted returns errors last seen inside the window that have not been
// surfaced to the operator yet, most severe first.
func (s *ErrorStore) Unalerted(ctx context.Context, window time.Duration, limit int) ([]models.ErrorLog, error) {
	cutoff := time.Now().UTC().Add(-window)

	var rows []models.ErrorLog
	err := s.db.WithContext(ctx).
		Where("alerted = FALSE AND last_seen_at > ?", cutoff).
		Order(severityOrder + ", last_seen_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unalerted errors: %w", err)
	}
	return rows, nil
}

// MarkAlerted flags the given rows as surfaced.
func (s *ErrorStore) MarkAlerted(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("id IN ?", ids).
		Update("alerted", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark errors alerted: %w", err)
	}
	return nil
}

// EscalationCandidates returns errors that warrant a human ping: anything
// tagged L3/L4, plus unknown-category noise that keeps repeating.
func (s *ErrorStore) EscalationCandidates(ctx context.Context, window time.Duration, unknownMinCount, limit int) ([]models.ErrorLog, error) {
	cutoff := time.Now().UTC().Add(-window)

	var rows []models.ErrorLog
	err := s.db.WithContext(ctx).
		Where("escalated = FALSE AND last_seen_at > ?", cutoff).
		Where(
			s.db.Where("severity_tag IN ?", []string{models.SeverityL3, models.SeverityL4}).
				Or("category = ? AND occurrence_count >= ?", models.CategoryUnknown, unknownMinCount),
		).
		Order(severityOrder + ", occurrence_count DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation candidates: %w", err)
	}
	return rows, nil
}

// MarkEscalated flags the given rows as escalated to a human.
func (s *ErrorStore) MarkEscalated(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("id IN ?", ids).
		Update("escalated", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark errors escalated: %w", err)
	}
	return nil
}

// ErrorSummary aggregates a reporting window.
type ErrorSummary struct {
	UniqueErrors     int64 `gorm:"column:unique_errors" json:"unique_errors"`
	TotalOccurrences int64 `gorm:"column:total_occurrences" json:"total_occurrences"`
	CriticalCount    int64 `gorm:"column:critical_count" json:"critical_count"`
}

// LoggerErrorCount aggregates one logger's share of a reporting window.
type LoggerErrorCount struct {
	LoggerName       string `gorm:"column:logger_name" json:"logger_name"`
	Count            int64  `gorm:"column:count" json:"count"`
	TotalOccurrences int64  `gorm:"column:total_occurrences" json:"total_occurrences"`
}

// ErrorReport is the operator-facing rollup served by the ops API.
type ErrorReport struct {
	Summary  ErrorSummary       `json:"summary"`
	Recent   []models.ErrorLog  `json:"recent"`
	ByLogger []LoggerErrorCount `json:"by_logger"`
}

// Report builds the rollup for the given window: totals, the ten most recent
// signatures, and a per-logger breakdown ordered by volume.
func (s *ErrorStore) Report(ctx context.Context, window time.Duration) (*ErrorReport, error) {
	cutoff := time.Now().UTC().Add(-window)
	report := &ErrorReport{}

	err := s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Select("COUNT(*) AS unique_errors, COALESCE(SUM(occurrence_count), 0) AS total_occurrences, COUNT(*) FILTER (WHERE level = 'CRITICAL') AS critical_count").
		Where("last_seen_at > ?", cutoff).
		Scan(&report.Summary).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build error summary: %w", err)
	}

	err = s.db.WithContext(ctx).
		Where("last_seen_at > ?", cutoff).
		Order("last_seen_at DESC").
		Limit(10).
		Find(&report.Recent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent errors: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Select("logger_name, COUNT(*) AS count, SUM(occurrence_count) AS total_occurrences").
		Where("last_seen_at > ?", cutoff).
		Group("logger_name").
		Order("total_occurrences DESC").
		Scan(&report.ByLogger).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build per-logger breakdown: %w", err)
	}

	return report, nil
}

// DeleteOlderThan purges signatures not seen for the given age and returns
// the number of rows removed.
func (s *ErrorStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	result := s.db.WithContext(ctx).
		Where("last_seen_at < ?", cutoff).
		Delete(&models.ErrorLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge old errors: %w", result.Error)
	}
	return result.RowsAffected, nil
}
