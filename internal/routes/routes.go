package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lumia-chat/sentinel/internal/config"
	"github.com/lumia-chat/sentinel/internal/handlers"
	"github.com/lumia-chat/sentinel/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	reportHandler *handlers.ReportHandler,
	fixHandler *handlers.FixHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Health (open, used by the hosting platform)
	api.Get("/health", healthHandler.Check)

	// Operator surface: JWT or admin token, with single-action tokens
	// scoped to their fix.
	admin := api.Group("/admin", middleware.JWTProtected(cfg), middleware.ActionScoped())
	admin.Get("/errors/report", reportHandler.Errors)
	admin.Get("/traces/latency", reportHandler.Latency)
	admin.Get("/fixes", fixHandler.List)

	// Approve/reject accept GET as well: the links in chat messages open
	// in a browser.
	admin.Post("/fixes/:id/approve", fixHandler.Approve)
	admin.Get("/fixes/:id/approve", fixHandler.Approve)
	admin.Post("/fixes/:id/reject", fixHandler.Reject)
	admin.Get("/fixes/:id/reject", fixHandler.Reject)
}
