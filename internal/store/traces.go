package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/trace"
)

// TraceStore owns all reads and writes against traces.
type TraceStore struct {
	db *gorm.DB
}

func NewTraceStore(db *gorm.DB) *TraceStore {
	return &TraceStore{db: db}
}

// InsertTrace persists one finished trace.
func (s *TraceStore) InsertTrace(ctx context.Context, t *models.Trace) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

// StuckUser is a user whose latest trace left them in a non-safe state.
type StuckUser struct {
	UserID       int64     `gorm:"column:user_id"`
	State        string    `gorm:"column:state"`
	LastActivity time.Time `gorm:"column:last_activity"`
}

// StuckUsers finds users whose most recent trace is older than the timeout
// but younger than the ceiling and left them outside the safe states. The
// ceiling keeps long-dormant users asleep instead of reviving them with an
// apology hours later.
func (s *TraceStore) StuckUsers(ctx context.Context, safeStates []string, timeout, ceiling time.Duration) ([]StuckUser, error) {
	now := time.Now().UTC()
	stuckBefore := now.Add(-timeout)
	freshAfter := now.Add(-ceiling)

	var rows []StuckUser
	err := s.db.WithContext(ctx).Raw(`
		WITH latest_traces AS (
			SELECT DISTINCT ON (user_id) user_id, state, created_at
			FROM traces
			WHERE created_at > ?
			ORDER BY user_id, created_at DESC
		)
		SELECT user_id, state, created_at AS last_activity
		FROM latest_traces
		WHERE created_at < ?
		  AND state <> ''
		  AND state NOT IN ?
	`, freshAfter, stuckBefore, safeStates).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck users: %w", err)
	}
	return rows, nil
}

// LatencySummary aggregates one reporting window.
type LatencySummary struct {
	Total    int64 `gorm:"column:total" json:"total"`
	AvgMs    int   `gorm:"column:avg_ms" json:"avg_ms"`
	P95Ms    int   `gorm:"column:p95_ms" json:"p95_ms"`
	RedCount int   `gorm:"-" json:"red_count"`
}

// CommandLatency aggregates one command's latency profile.
type CommandLatency struct {
	Command string `gorm:"column:command" json:"command"`
	AvgMs   int    `gorm:"column:avg_ms" json:"avg_ms"`
	P95Ms   int    `gorm:"column:p95_ms" json:"p95_ms"`
	MaxMs   int    `gorm:"column:max_ms" json:"max_ms"`
	Count   int64  `gorm:"column:count" json:"count"`
	Status  string `gorm:"-" json:"status"`
}

// SpanLatency aggregates one span name across all traces in the window.
type SpanLatency struct {
	Name  string `gorm:"column:name" json:"name"`
	AvgMs int    `gorm:"column:avg_ms" json:"avg_ms"`
	MaxMs int    `gorm:"column:max_ms" json:"max_ms"`
	Count int64  `gorm:"column:count" json:"count"`
}

// RedTrace is one over-budget request surfaced in the report.
type RedTrace struct {
	Command   string    `json:"command"`
	TotalMs   int       `json:"total_ms"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// LatencyReport is the operator-facing latency rollup served by the ops API.
type LatencyReport struct {
	Summary      LatencySummary   `json:"summary"`
	ByCommand    []CommandLatency `json:"by_command"`
	RedTraces    []RedTrace       `json:"red_traces"`
	SlowestSpans []SpanLatency    `json:"slowest_spans"`
}

// LatencyReport builds the rollup for the given window: totals with p95, a
// per-command breakdown graded against its class thresholds, the last five
// red traces, and the ten slowest span names.
func (s *TraceStore) LatencyReport(ctx context.Context, window time.Duration) (*LatencyReport, error) {
	cutoff := time.Now().UTC().Add(-window)
	report := &LatencyReport{}

	err := s.db.WithContext(ctx).Model(&models.Trace{}).
		Select("COUNT(*) AS total, COALESCE(AVG(total_ms), 0)::int AS avg_ms, COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY total_ms), 0)::int AS p95_ms").
		Where("created_at > ?", cutoff).
		Scan(&report.Summary).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build latency summary: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&models.Trace{}).
		Select("command, AVG(total_ms)::int AS avg_ms, percentile_cont(0.95) WITHIN GROUP (ORDER BY total_ms)::int AS p95_ms, MAX(total_ms) AS max_ms, COUNT(*) AS count").
		Where("created_at > ?", cutoff).
		Group("command").
		Order("avg_ms DESC").
		Scan(&report.ByCommand).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build per-command latency: %w", err)
	}
	for i := range report.ByCommand {
		c := &report.ByCommand[i]
		c.Status = trace.LatencyStatus(c.AvgMs, trace.CommandClass(c.Command))
	}

	err = s.db.WithContext(ctx).Raw(`
		SELECT s->>'name' AS name,
		       AVG((s->>'duration_ms')::numeric)::int AS avg_ms,
		       MAX((s->>'duration_ms')::numeric)::int AS max_ms,
		       COUNT(*) AS count
		FROM traces, jsonb_array_elements(spans) AS s
		WHERE created_at > ?
		GROUP BY name
		ORDER BY avg_ms DESC
		LIMIT 10
	`, cutoff).Scan(&report.SlowestSpans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to build span latency: %w", err)
	}

	rows, err := s.recentWithin(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, t := range rows {
		if !trace.IsRed(t.Command, t.TotalMs) {
			continue
		}
		report.Summary.RedCount++
		if len(report.RedTraces) < 5 {
			report.RedTraces = append(report.RedTraces, RedTrace{
				Command:   t.Command,
				TotalMs:   t.TotalMs,
				State:     t.State,
				CreatedAt: t.CreatedAt,
			})
		}
	}

	return report, nil
}

// RedTracesSince returns over-budget traces from the window, slowest first.
// Used by the periodic latency alert.
func (s *TraceStore) RedTracesSince(ctx context.Context, window time.Duration) ([]RedTrace, error) {
	cutoff := time.Now().UTC().Add(-window)

	var rows []models.Trace
	err := s.db.WithContext(ctx).
		Select("command", "total_ms", "state", "created_at").
		Where("created_at > ?", cutoff).
		Order("total_ms DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent traces: %w", err)
	}

	var red []RedTrace
	for _, t := range rows {
		if trace.IsRed(t.Command, t.TotalMs) {
			red = append(red, RedTrace{
				Command:   t.Command,
				TotalMs:   t.TotalMs,
				State:     t.State,
				CreatedAt: t.CreatedAt,
			})
		}
	}
	return red, nil
}

func (s *TraceStore) recentWithin(ctx context.Context, cutoff time.Time) ([]models.Trace, error) {
	var rows []models.Trace
	err := s.db.WithContext(ctx).
		Select("command", "total_ms", "state", "created_at").
		Where("created_at > ?", cutoff).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query traces in window: %w", err)
	}
	return rows, nil
}

// DeleteOlderThan purges traces older than the given age and returns the
// number of rows removed.
func (s *TraceStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Trace{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge old traces: %w", result.Error)
	}
	return result.RowsAffected, nil
}
