package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"

	"github.com/lumia-chat/sentinel/internal/alerts"
	"github.com/lumia-chat/sentinel/internal/autofix"
	"github.com/lumia-chat/sentinel/internal/capture"
	"github.com/lumia-chat/sentinel/internal/classify"
	"github.com/lumia-chat/sentinel/internal/clients"
	"github.com/lumia-chat/sentinel/internal/config"
	"github.com/lumia-chat/sentinel/internal/database"
	"github.com/lumia-chat/sentinel/internal/handlers"
	"github.com/lumia-chat/sentinel/internal/healthcheck"
	"github.com/lumia-chat/sentinel/internal/logging"
	"github.com/lumia-chat/sentinel/internal/middleware"
	"github.com/lumia-chat/sentinel/internal/routes"
	"github.com/lumia-chat/sentinel/internal/store"
	"github.com/lumia-chat/sentinel/internal/trace"
	"github.com/lumia-chat/sentinel/internal/unstick"
	"github.com/lumia-chat/sentinel/internal/workers"
)

// Per-table retention ages come from config; the purge cadence is fixed.
const retentionInterval = 24 * time.Hour

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := config.Load()

	if cfg.OpsJWTSecret == "" {
		slog.Error("OPS_JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Stores
	errorStore := store.NewErrorStore(database.DB)
	traceStore := store.NewTraceStore(database.DB)
	fixStore := store.NewFixStore(database.DB)
	sessionStore := store.NewSessionStore(database.DB)

	// Error capture: from here on every ERROR-level record logged anywhere
	// in the process is also queued, coalesced by key and flushed to Postgres.
	pipeline := capture.NewPipeline(errorStore, cfg.CaptureQueueSize, cfg.CaptureFlushInterval, cfg.CoalesceWindow)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		capture.NewHandler(pipeline),
	)))

	// Sentry side channel
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Outbound clients behind one shared circuit breaker
	breaker := clients.NewBreaker(slog.Default())
	notifier := clients.NewTelegramNotifier(cfg.TelegramBotToken, cfg.AdminChatID, breaker)
	repo := clients.NewGitHubClient(cfg.GitHubRepo, cfg.GitHubToken, breaker)
	hosting := clients.NewRailwayClient(cfg.RailwayToken, cfg.RailwayServiceID, cfg.RailwayEnvironmentID, breaker)
	llm := clients.NewLLMClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, breaker)

	if cfg.TelegramBotToken == "" || cfg.AdminChatID == 0 {
		slog.Warn("telegram notifier not configured, admin alerts will fail")
	}

	recorder := trace.NewRecorder(traceStore, cfg.SlowSpanThreshold)

	// Detectors and periodic services
	classifier := classify.NewService(errorStore, slog.Default())
	alerter := alerts.NewAlerter(errorStore, traceStore, notifier, slog.Default())
	detector := unstick.NewDetector(errorStore, traceStore, sessionStore, notifier, unstick.Config{
		ErrorThreshold: cfg.UnstickErrorThreshold,
		ErrorWindow:    cfg.UnstickErrorWindow,
		StuckTimeout:   cfg.StuckTimeout,
		StuckCeiling:   cfg.StuckCeiling,
		Cooldown:       cfg.RecoveryCooldown,
		SafeTarget:     cfg.SafeState,
		SafeStates:     cfg.SafeStates,
	}, slog.Default())
	fixer := autofix.NewService(errorStore, fixStore, llm, repo, notifier, recorder, autofix.Config{
		Enabled:          cfg.AutofixReady(),
		BaseBranch:       cfg.GitHubBaseBranch,
		RepoPrefix:       cfg.RepoDirPrefix,
		ProtectedPaths:   cfg.ProtectedFiles,
		PublicBaseURL:    cfg.PublicBaseURL,
		TokenSecret:      []byte(cfg.OpsJWTSecret),
		TokenTTL:         cfg.ActionTokenTTL,
		Window:           cfg.AutofixWindow,
		MinOccurrences:   cfg.AutofixMinCount,
		MaxProposals:     cfg.AutofixMaxProposals,
		MaxTracePaths:    cfg.AutofixMaxFiles,
		MaxContextFiles:  cfg.AutofixFetchLimit,
		DiagnosisTimeout: cfg.DiagnosisTimeout,
		QualityFloor:     cfg.AutofixMinScore,
	}, slog.Default())
	monitor := healthcheck.NewMonitor(errorStore, hosting, notifier, healthcheck.Config{
		Enabled:      cfg.RestartReady(),
		Window:       cfg.HealthCheckWindow,
		KeyThreshold: cfg.DistinctKeyThreshold,
		Cooldown:     cfg.RestartCooldown,
	}, slog.Default())

	slog.Info("detectors configured",
		"autofix_enabled", cfg.AutofixReady(),
		"restart_enabled", cfg.RestartReady())

	// Periodic jobs
	supervisor := workers.NewSupervisor(slog.Default())
	supervisor.Add(workers.Job{Name: "classify", Interval: cfg.ClassifyInterval, Run: func(ctx context.Context) error {
		_, err := classifier.RunOnce(ctx)
		return err
	}})
	supervisor.Add(workers.Job{Name: "unstick", Interval: cfg.UnstickInterval, Run: func(ctx context.Context) error {
		_, err := detector.RunOnce(ctx)
		return err
	}})
	supervisor.Add(workers.Job{Name: "autofix", Interval: cfg.AutofixInterval, Run: func(ctx context.Context) error {
		_, err := fixer.RunOnce(ctx)
		return err
	}})
	supervisor.Add(workers.Job{Name: "alerts", Interval: cfg.AlertInterval, Run: func(ctx context.Context) error {
		if _, err := alerter.ErrorAlerts(ctx); err != nil {
			return err
		}
		if _, err := alerter.Escalations(ctx); err != nil {
			return err
		}
		_, err := alerter.LatencyAlerts(ctx)
		return err
	}})
	supervisor.Add(workers.Job{Name: "healthcheck", Interval: cfg.HealthCheckInterval, Run: func(ctx context.Context) error {
		_, err := monitor.RunOnce(ctx)
		return err
	}})
	supervisor.Add(workers.Job{Name: "retention", Interval: retentionInterval, Run: func(ctx context.Context) error {
		if _, err := errorStore.DeleteOlderThan(ctx, cfg.ErrorRetention); err != nil {
			return err
		}
		if _, err := traceStore.DeleteOlderThan(ctx, cfg.TraceRetention); err != nil {
			return err
		}
		_, err := fixStore.DeleteResolvedOlderThan(ctx, cfg.FixRetention)
		return err
	}})
	supervisor.Start(context.Background())

	// Handlers
	healthHandler := handlers.NewHealthHandler(pipeline, database.Ping)
	reportHandler := handlers.NewReportHandler(errorStore, traceStore)
	fixHandler := handlers.NewFixHandler(fixStore, fixer)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, healthHandler, reportHandler, fixHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	supervisor.Stop()
	pipeline.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
