package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Error capture
	CaptureQueueSize     int
	CaptureFlushInterval time.Duration
	CoalesceWindow       time.Duration

	// Trace recorder
	SlowSpanThreshold time.Duration

	// Classifier
	ClassifyInterval time.Duration
	AlertInterval    time.Duration

	// L1 unstick
	UnstickInterval       time.Duration
	UnstickErrorWindow    time.Duration
	UnstickErrorThreshold int
	StuckTimeout          time.Duration
	StuckCeiling          time.Duration
	RecoveryCooldown      time.Duration
	SafeState             string
	SafeStates            []string

	// L2 auto-fix
	AutofixEnabled      bool
	AutofixInterval     time.Duration
	AutofixWindow       time.Duration
	AutofixMinCount     int
	AutofixMaxFiles     int
	AutofixFetchLimit   int
	AutofixMaxProposals int
	AutofixMinScore     float64
	ProtectedFiles      []string
	DiagnosisTimeout    time.Duration

	AnthropicAPIKey string
	AnthropicModel  string

	GitHubToken      string
	GitHubRepo       string // "owner/name"
	GitHubBaseBranch string
	RepoDirPrefix    string

	// L3 health check
	RestartEnabled       bool
	HealthCheckInterval  time.Duration
	HealthCheckWindow    time.Duration
	DistinctKeyThreshold int
	RestartCooldown      time.Duration

	RailwayToken         string
	RailwayServiceID     string
	RailwayEnvironmentID string

	// Notifier
	TelegramBotToken string
	AdminChatID      int64

	// Retention
	ErrorRetention time.Duration
	TraceRetention time.Duration
	FixRetention   time.Duration

	// Ops API
	Port           string
	OpsJWTSecret   string
	AdminToken     string
	CORSOrigins    string
	PublicBaseURL  string
	ActionTokenTTL time.Duration
}

func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "sentinel_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		CaptureQueueSize:     parseInt(getEnv("CAPTURE_QUEUE_SIZE", "1000"), 1000),
		CaptureFlushInterval: parseDuration(getEnv("CAPTURE_FLUSH_INTERVAL", "5s"), 5*time.Second),
		CoalesceWindow:       parseDuration(getEnv("COALESCE_WINDOW", "1h"), time.Hour),

		SlowSpanThreshold: parseDuration(getEnv("SLOW_SPAN_THRESHOLD", "1s"), time.Second),

		ClassifyInterval: parseDuration(getEnv("CLASSIFY_INTERVAL", "5m"), 5*time.Minute),
		AlertInterval:    parseDuration(getEnv("ALERT_INTERVAL", "15m"), 15*time.Minute),

		UnstickInterval:       parseDuration(getEnv("UNSTICK_INTERVAL", "5m"), 5*time.Minute),
		UnstickErrorWindow:    parseDuration(getEnv("UNSTICK_ERROR_WINDOW", "5m"), 5*time.Minute),
		UnstickErrorThreshold: parseInt(getEnv("UNSTICK_ERROR_THRESHOLD", "3"), 3),
		StuckTimeout:          parseDuration(getEnv("STUCK_TIMEOUT", "60m"), 60*time.Minute),
		StuckCeiling:          parseDuration(getEnv("STUCK_CEILING", "4h"), 4*time.Hour),
		RecoveryCooldown:      parseDuration(getEnv("RECOVERY_COOLDOWN", "30m"), 30*time.Minute),
		SafeState:             getEnv("SAFE_STATE", "common.mode_select"),
		SafeStates:            splitCSV(getEnv("SAFE_STATES", "common.mode_select,common.start")),

		AutofixEnabled:      parseBool(getEnv("AUTOFIX_ENABLED", "false")),
		AutofixInterval:     parseDuration(getEnv("AUTOFIX_INTERVAL", "15m"), 15*time.Minute),
		AutofixWindow:       parseDuration(getEnv("AUTOFIX_WINDOW", "15m"), 15*time.Minute),
		AutofixMinCount:     parseInt(getEnv("AUTOFIX_MIN_COUNT", "3"), 3),
		AutofixMaxFiles:     parseInt(getEnv("AUTOFIX_MAX_FILES", "3"), 3),
		AutofixFetchLimit:   parseInt(getEnv("AUTOFIX_FETCH_LIMIT", "2"), 2),
		AutofixMaxProposals: parseInt(getEnv("AUTOFIX_MAX_PROPOSALS", "3"), 3),
		AutofixMinScore:     parseFloat(getEnv("AUTOFIX_MIN_SCORE", "8.0"), 8.0),
		ProtectedFiles:      splitCSV(getEnv("AUTOFIX_PROTECTED", "core/config.py,core/database.py,db/connection.py,.env")),
		DiagnosisTimeout:    parseDuration(getEnv("DIAGNOSIS_TIMEOUT", "60s"), 60*time.Second),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		GitHubToken:      getEnv("GITHUB_TOKEN", ""),
		GitHubRepo:       getEnv("GITHUB_REPO", ""),
		GitHubBaseBranch: getEnv("GITHUB_BASE_BRANCH", "main"),
		RepoDirPrefix:    getEnv("REPO_DIR_PREFIX", "lumia/"),

		RestartEnabled:       parseBool(getEnv("RESTART_ENABLED", "false")),
		HealthCheckInterval:  parseDuration(getEnv("HEALTHCHECK_INTERVAL", "15m"), 15*time.Minute),
		HealthCheckWindow:    parseDuration(getEnv("HEALTHCHECK_WINDOW", "5m"), 5*time.Minute),
		DistinctKeyThreshold: parseInt(getEnv("DISTINCT_KEY_THRESHOLD", "10"), 10),
		RestartCooldown:      parseDuration(getEnv("RESTART_COOLDOWN", "30m"), 30*time.Minute),

		RailwayToken:         getEnv("RAILWAY_API_TOKEN", ""),
		RailwayServiceID:     getEnv("RAILWAY_SERVICE_ID", ""),
		RailwayEnvironmentID: getEnv("RAILWAY_ENVIRONMENT_ID", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminChatID:      parseInt64(getEnv("ADMIN_CHAT_ID", "0"), 0),

		ErrorRetention: parseDuration(getEnv("ERROR_RETENTION", "168h"), 168*time.Hour),
		TraceRetention: parseDuration(getEnv("TRACE_RETENTION", "168h"), 168*time.Hour),
		FixRetention:   parseDuration(getEnv("FIX_RETENTION", "720h"), 720*time.Hour),

		Port:           getEnv("PORT", "8080"),
		OpsJWTSecret:   getEnv("OPS_JWT_SECRET", ""),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		CORSOrigins:    getEnv("CORS_ORIGINS", "*"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		ActionTokenTTL: parseDuration(getEnv("ACTION_TOKEN_TTL", "24h"), 24*time.Hour),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// AutofixReady reports whether L2 may run: the feature flag plus every
// credential the patch workflow needs.
func (c *Config) AutofixReady() bool {
	return c.AutofixEnabled && c.AnthropicAPIKey != "" && c.GitHubToken != "" && c.GitHubRepo != ""
}

// RestartReady reports whether L3 may restart: explicit enable plus the full
// set of hosting credentials.
func (c *Config) RestartReady() bool {
	return c.RestartEnabled && c.RailwayToken != "" && c.RailwayServiceID != "" && c.RailwayEnvironmentID != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseInt64(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
