// Package healthcheck watches for cascading failures and restarts the
// monitored deployment when the error stream shows a crash loop or an
// exhausted connection pool.
package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumia-chat/sentinel/internal/clients"
)

const (
	defaultWindow       = 5 * time.Minute
	defaultKeyThreshold = 10
	defaultCooldown     = 30 * time.Minute
)

// Config tunes the crash heuristics. Zero fields fall back to the
// defaults above.
type Config struct {
	// Enabled gates restarts entirely. Pass false when auto-restarts are
	// switched off or the hosting credentials are incomplete; the cycle
	// then becomes a no-op instead of failing every interval.
	Enabled bool

	Window       time.Duration
	KeyThreshold int
	Cooldown     time.Duration
}

type ErrorSource interface {
	DistinctKeyCount(ctx context.Context, window time.Duration) (int64, error)
	HasExhaustionPattern(ctx context.Context, window time.Duration) (bool, error)
}

type Hosting interface {
	LatestDeploymentID(ctx context.Context) (string, error)
	RestartDeployment(ctx context.Context, deploymentID string) error
}

type Notifier interface {
	SendAdmin(ctx context.Context, text string, actions []clients.Action) (string, error)
}

// Monitor holds its own restart cooldown. A restart ATTEMPT starts the
// cooldown whether or not the platform accepted it, so a broken hosting
// API cannot cause a restart storm.
type Monitor struct {
	errStore ErrorSource
	hosting  Hosting
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	now         func() time.Time
	lastRestart time.Time
}

func NewMonitor(errStore ErrorSource, hosting Hosting, notifier Notifier, cfg Config, log *slog.Logger) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.KeyThreshold <= 0 {
		cfg.KeyThreshold = defaultKeyThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Monitor{
		errStore: errStore,
		hosting:  hosting,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce evaluates the crash heuristics and restarts the deployment at
// most once per cooldown window. It reports whether a restart was
// requested.
func (m *Monitor) RunOnce(ctx context.Context) (bool, error) {
	if !m.cfg.Enabled {
		return false, nil
	}
	if !m.lastRestart.IsZero() && m.now().Sub(m.lastRestart) < m.cfg.Cooldown {
		return false, nil
	}

	keys, err := m.errStore.DistinctKeyCount(ctx, m.cfg.Window)
	if err != nil {
		return false, fmt.Errorf("failed to count distinct errors: %w", err)
	}
	exhausted, err := m.errStore.HasExhaustionPattern(ctx, m.cfg.Window)
	if err != nil {
		return false, fmt.Errorf("failed to check pool exhaustion: %w", err)
	}

	reasons := make([]string, 0, 2)
	if keys >= int64(m.cfg.KeyThreshold) {
		reasons = append(reasons, fmt.Sprintf("%d unique errors in %d min", keys, int(m.cfg.Window.Minutes())))
	}
	if exhausted {
		reasons = append(reasons, "pool/connection exhaustion")
	}
	if len(reasons) == 0 {
		return false, nil
	}
	reason := strings.Join(reasons, " + ")

	m.log.Warn("cascading failure detected", "reason", reason)
	m.notifyAdmin(ctx, fmt.Sprintf("🚨 <b>Cascading failure detected</b>\n%s\nRestarting the service...", reason))

	deploymentID, err := m.hosting.LatestDeploymentID(ctx)
	if err != nil {
		// Nothing was restarted, so the cooldown stays untouched and the
		// next cycle retries the lookup.
		m.notifyAdmin(ctx, "⚠️ Restart skipped: could not resolve the active deployment")
		return false, fmt.Errorf("failed to resolve active deployment: %w", err)
	}

	restartErr := m.hosting.RestartDeployment(ctx, deploymentID)
	m.lastRestart = m.now()
	if restartErr != nil {
		m.notifyAdmin(ctx, fmt.Sprintf("❌ Restart of deployment %s failed", deploymentID))
		return false, fmt.Errorf("failed to restart deployment %s: %w", deploymentID, restartErr)
	}

	m.log.Info("service restart requested", "deployment_id", deploymentID, "reason", reason)
	m.notifyAdmin(ctx, fmt.Sprintf("✅ Service restart requested (deployment <code>%s</code>)", deploymentID))
	return true, nil
}

func (m *Monitor) notifyAdmin(ctx context.Context, text string) {
	if _, err := m.notifier.SendAdmin(ctx, text, nil); err != nil {
		m.log.Warn("failed to notify admin", "error", err)
	}
}
