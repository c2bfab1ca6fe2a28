package classify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lumia-chat/sentinel/internal/models"
)

const batchLimit = 100

// ErrorSource is the slice of the error store the classifier needs.
type ErrorSource interface {
	Unclassified(ctx context.Context, limit int) ([]models.ErrorLog, error)
	ApplyClassification(ctx context.Context, id uuid.UUID, category, severityTag, suggestedAction string) error
}

// Service stamps unclassified errors with category, severity tag and
// suggested action. Runs from the worker supervisor every few minutes.
type Service struct {
	errors ErrorSource
	log    *slog.Logger
}

func NewService(errors ErrorSource, log *slog.Logger) *Service {
	return &Service{errors: errors, log: log}
}

// RunOnce classifies one batch. Returns the number of rows stamped.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	rows, err := s.errors.Unclassified(ctx, batchLimit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	stamped := 0
	for _, row := range rows {
		verdict := Classify(row.LoggerName, row.Message, row.Traceback)
		if err := s.errors.ApplyClassification(ctx, row.ID, verdict.Category, verdict.Severity, verdict.Action); err != nil {
			s.log.Error("failed to stamp classification", "error", err, "error_key", row.ErrorKey)
			continue
		}
		stamped++
	}

	s.log.Info("classified errors", "count", stamped)
	return stamped, nil
}
