// Package unstick returns users whose conversation flow has wedged back
// to a safe state: either their session accumulated repeated errors, or
// their last recorded activity left them parked in a non-menu state for
// too long.
package unstick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumia-chat/sentinel/internal/clients"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/store"
)

const (
	// RecoveryTarget is the default state a recovered session is reset to.
	RecoveryTarget = "common.mode_select"

	defaultErrorThreshold = 3
	defaultErrorWindow    = 5 * time.Minute
	defaultStuckTimeout   = 60 * time.Minute
	defaultStuckCeiling   = 4 * time.Hour
	defaultCooldown       = 30 * time.Minute
)

const apologyText = "Sorry, something went wrong on my side. I took you back to the main menu, please pick a mode again."

// Config tunes both recovery rules. Zero fields fall back to the
// defaults above.
type Config struct {
	ErrorThreshold int
	ErrorWindow    time.Duration
	StuckTimeout   time.Duration
	StuckCeiling   time.Duration
	Cooldown       time.Duration

	// SafeTarget is the state sessions are reset to; it is always safe.
	SafeTarget string
	// SafeStates are additional states never recovered from.
	SafeStates []string
}

type ErrorSource interface {
	UsersWithErrors(ctx context.Context, window time.Duration, threshold int) ([]store.UserErrorCount, error)
}

type TraceSource interface {
	StuckUsers(ctx context.Context, safeStates []string, timeout, ceiling time.Duration) ([]store.StuckUser, error)
}

type SessionSource interface {
	Get(ctx context.Context, userID int64) (*models.UserSession, error)
	ResetState(ctx context.Context, userID int64, state string) error
}

type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, actions []clients.Action) (string, error)
}

// Detector owns its recovery cooldowns, so two detectors (or a restart)
// never share stale state.
type Detector struct {
	errStore   ErrorSource
	traceStore TraceSource
	sessions   SessionSource
	notifier   Notifier
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
	cooldown   map[int64]time.Time

	// safeSet is every state recover skips; tracked is the non-empty
	// subset passed to the trace query, which excludes empty states on
	// its own.
	safeSet map[string]struct{}
	tracked []string
}

func NewDetector(errStore ErrorSource, traceStore TraceSource, sessions SessionSource, notifier Notifier, cfg Config, log *slog.Logger) *Detector {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = defaultErrorThreshold
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = defaultErrorWindow
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = defaultStuckTimeout
	}
	if cfg.StuckCeiling <= 0 {
		cfg.StuckCeiling = defaultStuckCeiling
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.SafeTarget == "" {
		cfg.SafeTarget = RecoveryTarget
	}

	// "unknown" marks sessions whose state the engine could not resolve;
	// reviving those would apologize to users who never got stuck.
	safeSet := map[string]struct{}{
		cfg.SafeTarget: {},
		"common.start": {},
		"unknown":      {},
		"":             {},
	}
	for _, s := range cfg.SafeStates {
		safeSet[s] = struct{}{}
	}
	tracked := make([]string, 0, len(safeSet))
	for s := range safeSet {
		if s != "" {
			tracked = append(tracked, s)
		}
	}

	return &Detector{
		errStore:   errStore,
		traceStore: traceStore,
		sessions:   sessions,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		cooldown:   make(map[int64]time.Time),
		safeSet:    safeSet,
		tracked:    tracked,
	}
}

// RunOnce applies both recovery rules and returns how many users were
// reset. A failing rule does not stop the other one.
func (d *Detector) RunOnce(ctx context.Context) (int, error) {
	d.pruneCooldowns()

	recovered := 0
	var firstErr error

	users, err := d.errStore.UsersWithErrors(ctx, d.cfg.ErrorWindow, d.cfg.ErrorThreshold)
	if err != nil {
		firstErr = fmt.Errorf("failed to scan error counts: %w", err)
	}
	for _, u := range users {
		reason := fmt.Sprintf("repeated_errors (%dx): %s", u.Count, clip(u.LastError, 100))
		if d.recover(ctx, u.UserID, reason) {
			recovered++
		}
	}

	stuck, err := d.traceStore.StuckUsers(ctx, d.tracked, d.cfg.StuckTimeout, d.cfg.StuckCeiling)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to scan stuck traces: %w", err)
		}
	}
	for _, s := range stuck {
		reason := fmt.Sprintf("stuck in '%s' since %s", s.State, s.LastActivity.UTC().Format("2006-01-02 15:04"))
		if d.recover(ctx, s.UserID, reason) {
			recovered++
		}
	}

	if recovered > 0 {
		d.log.Info("unstick cycle recovered users", "count", recovered)
	}
	return recovered, firstErr
}

// recover resets one user at most once per cooldown window. The state
// reset happens before the apology: a failed send must not leave the
// user stuck.
func (d *Detector) recover(ctx context.Context, userID int64, reason string) bool {
	if until, ok := d.cooldown[userID]; ok && d.now().Before(until) {
		return false
	}

	session, err := d.sessions.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			d.log.Error("failed to load session", "user_id", userID, "error", err)
		}
		return false
	}
	if session.Blocked || session.Deactivated {
		return false
	}
	if _, safe := d.safeSet[session.State]; safe {
		return false
	}

	if err := d.sessions.ResetState(ctx, userID, d.cfg.SafeTarget); err != nil {
		d.log.Error("failed to reset session state", "user_id", userID, "error", err)
		return false
	}

	if _, err := d.notifier.Send(ctx, userID, apologyText, nil); err != nil {
		// Blocked or deactivated chats are expected, anything else is
		// worth a warning. The reset already happened either way.
		msg := err.Error()
		if !strings.Contains(msg, "blocked") && !strings.Contains(msg, "deactivated") {
			d.log.Warn("failed to send recovery notice", "user_id", userID, "error", err)
		}
	}

	d.cooldown[userID] = d.now().Add(d.cfg.Cooldown)
	d.log.Info("recovered stuck user",
		"user_id", userID,
		"previous_state", session.State,
		"reason", reason,
	)
	return true
}

func (d *Detector) pruneCooldowns() {
	now := d.now()
	for id, until := range d.cooldown {
		if now.After(until) {
			delete(d.cooldown, id)
		}
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
