package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/lumia-chat/sentinel/internal/autofix"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/store"
)

type fakePipeline struct {
	fix      *models.PendingFix
	err      error
	approved []uuid.UUID
	rejected []uuid.UUID
}

func (f *fakePipeline) Approve(_ context.Context, id uuid.UUID) (*models.PendingFix, error) {
	f.approved = append(f.approved, id)
	return f.fix, f.err
}

func (f *fakePipeline) Reject(_ context.Context, id uuid.UUID) (*models.PendingFix, error) {
	f.rejected = append(f.rejected, id)
	return f.fix, f.err
}

type fakeLister struct {
	fixes []models.PendingFix
	limit int
}

func (f *fakeLister) ListRecent(_ context.Context, limit int) ([]models.PendingFix, error) {
	f.limit = limit
	return f.fixes, nil
}

func newFixApp(lister FixLister, pipeline FixPipeline) *fiber.App {
	h := NewFixHandler(lister, pipeline)
	app := fiber.New()
	app.Get("/fixes", h.List)
	app.Post("/fixes/:id/approve", h.Approve)
	app.Post("/fixes/:id/reject", h.Reject)
	return app
}

func TestApproveReturnsAppliedFix(t *testing.T) {
	id := uuid.New()
	pipeline := &fakePipeline{fix: &models.PendingFix{
		ID:     id,
		Status: models.FixStatusApplied,
		PRURL:  "https://github.com/lumia-chat/lumia/pull/7",
	}}
	app := newFixApp(&fakeLister{}, pipeline)

	resp, err := app.Test(httptest.NewRequest("POST", "/fixes/"+id.String()+"/approve", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, id.String(), gjson.GetBytes(body, "fix_id").String())
	require.Equal(t, models.FixStatusApplied, gjson.GetBytes(body, "status").String())
	require.Equal(t, pipeline.fix.PRURL, gjson.GetBytes(body, "pr_url").String())
	require.Equal(t, []uuid.UUID{id}, pipeline.approved)
	require.Empty(t, pipeline.rejected)
}

func TestActionErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown fix", store.ErrFixNotFound, fiber.StatusNotFound},
		{"already finalized", autofix.ErrNotPending, fiber.StatusConflict},
		{"apply failed", errors.New("failed to apply fix: original code not found"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newFixApp(&fakeLister{}, &fakePipeline{err: tt.err})
			resp, err := app.Test(httptest.NewRequest("POST", "/fixes/"+uuid.NewString()+"/reject", nil))
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.True(t, gjson.GetBytes(body, "error").Bool())
		})
	}
}

func TestActionRejectsMalformedID(t *testing.T) {
	pipeline := &fakePipeline{}
	app := newFixApp(&fakeLister{}, pipeline)

	resp, err := app.Test(httptest.NewRequest("POST", "/fixes/not-a-uuid/approve", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Empty(t, pipeline.approved)
}

func TestListFallsBackOnWildLimit(t *testing.T) {
	lister := &fakeLister{fixes: []models.PendingFix{{ID: uuid.New()}}}
	app := newFixApp(lister, &fakePipeline{})

	resp, err := app.Test(httptest.NewRequest("GET", "/fixes?limit=9999", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 20, lister.limit)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, int64(1), gjson.GetBytes(body, "count").Int())
	require.Len(t, gjson.GetBytes(body, "fixes").Array(), 1)
}
