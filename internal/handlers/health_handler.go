package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumia-chat/sentinel/internal/dto"
)

// QueueStats exposes the capture pipeline's backlog to the health
// endpoint.
type QueueStats interface {
	QueueDepth() int
	Dropped() int64
}

type HealthHandler struct {
	queue QueueStats
	ping  func() error
}

func NewHealthHandler(queue QueueStats, ping func() error) *HealthHandler {
	return &HealthHandler{queue: queue, ping: ping}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.ping(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DB:         dbStatus,
		QueueDepth: h.queue.QueueDepth(),
		Dropped:    h.queue.Dropped(),
	})
}
