// Package alerts turns fresh error signatures and slow requests into
// operator chat messages. Rows are flagged only after the message went
// out, so a failed delivery is retried on the next cycle.
package alerts

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumia-chat/sentinel/internal/clients"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/store"
)

const (
	alertWindow = 15 * time.Minute
	alertLimit  = 10

	escalationWindow     = time.Hour
	escalationLimit      = 5
	unknownEscalationMin = 5

	latencyWindow  = 15 * time.Minute
	latencyTopSize = 5
)

type ErrorSource interface {
	Unalerted(ctx context.Context, window time.Duration, limit int) ([]models.ErrorLog, error)
	MarkAlerted(ctx context.Context, ids []uuid.UUID) error
	EscalationCandidates(ctx context.Context, window time.Duration, unknownMinCount, limit int) ([]models.ErrorLog, error)
	MarkEscalated(ctx context.Context, ids []uuid.UUID) error
}

type TraceSource interface {
	RedTracesSince(ctx context.Context, window time.Duration) ([]store.RedTrace, error)
}

type Notifier interface {
	SendAdmin(ctx context.Context, text string, actions []clients.Action) (string, error)
}

type Alerter struct {
	errors   ErrorSource
	traces   TraceSource
	notifier Notifier
	log      *slog.Logger
}

func NewAlerter(errors ErrorSource, traces TraceSource, notifier Notifier, log *slog.Logger) *Alerter {
	return &Alerter{
		errors:   errors,
		traces:   traces,
		notifier: notifier,
		log:      log,
	}
}

// ErrorAlerts reports error signatures nobody has been told about yet
// and returns how many were included.
func (a *Alerter) ErrorAlerts(ctx context.Context) (int, error) {
	rows, err := a.errors.Unalerted(ctx, alertWindow, alertLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to load unalerted errors: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("⚠️ <b>New errors (last 15 min)</b>\n")
	ids := make([]uuid.UUID, 0, len(rows))
	for _, e := range rows {
		writeErrorLine(&b, e)
		ids = append(ids, e.ID)
	}

	if _, err := a.notifier.SendAdmin(ctx, b.String(), nil); err != nil {
		return 0, fmt.Errorf("failed to send error alert: %w", err)
	}
	if err := a.errors.MarkAlerted(ctx, ids); err != nil {
		return len(rows), fmt.Errorf("failed to mark errors alerted: %w", err)
	}
	a.log.Info("error alert sent", "count", len(rows))
	return len(rows), nil
}

// Escalations reports severe or stubborn signatures that need a human.
func (a *Alerter) Escalations(ctx context.Context) (int, error) {
	rows, err := a.errors.EscalationCandidates(ctx, escalationWindow, unknownEscalationMin, escalationLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to load escalation candidates: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("🚨 <b>Escalation needed</b>\n")
	ids := make([]uuid.UUID, 0, len(rows))
	for _, e := range rows {
		writeErrorLine(&b, e)
		ids = append(ids, e.ID)
	}

	if _, err := a.notifier.SendAdmin(ctx, b.String(), nil); err != nil {
		return 0, fmt.Errorf("failed to send escalation alert: %w", err)
	}
	if err := a.errors.MarkEscalated(ctx, ids); err != nil {
		return len(rows), fmt.Errorf("failed to mark errors escalated: %w", err)
	}
	a.log.Info("escalation alert sent", "count", len(rows))
	return len(rows), nil
}

// LatencyAlerts reports requests over their red threshold. Nothing is
// flagged: the window and the schedule line up instead.
func (a *Alerter) LatencyAlerts(ctx context.Context) (int, error) {
	reds, err := a.traces.RedTracesSince(ctx, latencyWindow)
	if err != nil {
		return 0, fmt.Errorf("failed to load slow traces: %w", err)
	}
	if len(reds) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("🐌 <b>Slow requests (last 15 min)</b>\n")
	fmt.Fprintf(&b, "<i>%d over the red threshold</i>\n", len(reds))
	top := reds
	if len(top) > latencyTopSize {
		top = top[:latencyTopSize]
	}
	for _, r := range top {
		command := r.Command
		if command == "" {
			command = "(none)"
		}
		fmt.Fprintf(&b, "\n<code>%s</code> %dms", html.EscapeString(command), r.TotalMs)
		if r.State != "" {
			fmt.Fprintf(&b, " in %s", html.EscapeString(r.State))
		}
	}

	if _, err := a.notifier.SendAdmin(ctx, b.String(), nil); err != nil {
		return 0, fmt.Errorf("failed to send latency alert: %w", err)
	}
	a.log.Info("latency alert sent", "count", len(reds))
	return len(reds), nil
}

func writeErrorLine(b *strings.Builder, e models.ErrorLog) {
	label := e.SeverityTag
	if label == "" {
		label = e.Level
	}
	fmt.Fprintf(b, "\n%s <b>%s</b> <code>%s</code>\n%s (%dx)\n",
		severityEmoji(e.SeverityTag), label, e.LoggerName,
		html.EscapeString(clip(e.Message, 200)), e.OccurrenceCount)
	if e.SuggestedAction != "" {
		fmt.Fprintf(b, "→ %s\n", html.EscapeString(e.SuggestedAction))
	}
}

func severityEmoji(tag string) string {
	switch tag {
	case models.SeverityL4:
		return "🔴"
	case models.SeverityL3:
		return "🟠"
	case models.SeverityL2:
		return "🟡"
	case models.SeverityL1:
		return "🔵"
	}
	return "⚪"
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
