package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lumia-chat/sentinel/internal/autofix"
	"github.com/lumia-chat/sentinel/internal/dto"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/store"
)

// FixPipeline applies operator verdicts to pending fixes.
type FixPipeline interface {
	Approve(ctx context.Context, id uuid.UUID) (*models.PendingFix, error)
	Reject(ctx context.Context, id uuid.UUID) (*models.PendingFix, error)
}

type FixLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.PendingFix, error)
}

type FixHandler struct {
	fixes    FixLister
	pipeline FixPipeline
}

func NewFixHandler(fixes FixLister, pipeline FixPipeline) *FixHandler {
	return &FixHandler{fixes: fixes, pipeline: pipeline}
}

func (h *FixHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	fixes, err := h.fixes.ListRecent(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list fixes",
		})
	}
	return c.JSON(dto.FixListResponse{Fixes: fixes, Count: len(fixes)})
}

func (h *FixHandler) Approve(c *fiber.Ctx) error {
	return h.action(c, h.pipeline.Approve)
}

func (h *FixHandler) Reject(c *fiber.Ctx) error {
	return h.action(c, h.pipeline.Reject)
}

func (h *FixHandler) action(c *fiber.Ctx, verdict func(context.Context, uuid.UUID) (*models.PendingFix, error)) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid fix id",
		})
	}

	fix, err := verdict(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrFixNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Fix not found",
			})
		case errors.Is(err, autofix.ErrNotPending):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: "Fix is not awaiting approval",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
	}

	return c.JSON(dto.FixActionResponse{
		FixID:  fix.ID.String(),
		Status: fix.Status,
		PRURL:  fix.PRURL,
	})
}
