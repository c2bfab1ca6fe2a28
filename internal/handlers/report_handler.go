package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumia-chat/sentinel/internal/dto"
	"github.com/lumia-chat/sentinel/internal/store"
)

type ErrorReporter interface {
	Report(ctx context.Context, window time.Duration) (*store.ErrorReport, error)
}

type LatencyReporter interface {
	LatencyReport(ctx context.Context, window time.Duration) (*store.LatencyReport, error)
}

type ReportHandler struct {
	errors ErrorReporter
	traces LatencyReporter
}

func NewReportHandler(errors ErrorReporter, traces LatencyReporter) *ReportHandler {
	return &ReportHandler{errors: errors, traces: traces}
}

// Errors serves the error rollup for the requested window.
func (h *ReportHandler) Errors(c *fiber.Ctx) error {
	report, err := h.errors.Report(c.Context(), reportWindow(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to build error report",
		})
	}
	return c.JSON(report)
}

// Latency serves the latency rollup for the requested window.
func (h *ReportHandler) Latency(c *fiber.Ctx) error {
	report, err := h.traces.LatencyReport(c.Context(), reportWindow(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to build latency report",
		})
	}
	return c.JSON(report)
}

// reportWindow caps the requested hours at a week so one query cannot
// scan the whole table.
func reportWindow(c *fiber.Ctx) time.Duration {
	hours, _ := strconv.Atoi(c.Query("hours", "24"))
	if hours < 1 {
		hours = 24
	}
	if hours > 168 {
		hours = 168
	}
	return time.Duration(hours) * time.Hour
}
