package handlers

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeQueue struct {
	depth   int
	dropped int64
}

func (f *fakeQueue) QueueDepth() int { return f.depth }
func (f *fakeQueue) Dropped() int64  { return f.dropped }

func TestHealthReportsQueueAndDB(t *testing.T) {
	h := NewHealthHandler(&fakeQueue{depth: 3, dropped: 7}, func() error { return nil })
	app := fiber.New()
	app.Get("/api/health", h.Check)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	require.Equal(t, "ok", gjson.GetBytes(body, "db").String())
	require.Equal(t, int64(3), gjson.GetBytes(body, "queue_depth").Int())
	require.Equal(t, int64(7), gjson.GetBytes(body, "dropped").Int())
	require.NotEmpty(t, gjson.GetBytes(body, "timestamp").String())
}

func TestHealthSurfacesDBFailure(t *testing.T) {
	h := NewHealthHandler(&fakeQueue{}, func() error { return errors.New("connection refused") })
	app := fiber.New()
	app.Get("/api/health", h.Check)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, gjson.GetBytes(body, "db").String(), "unhealthy")
	require.Contains(t, gjson.GetBytes(body, "db").String(), "connection refused")
}
