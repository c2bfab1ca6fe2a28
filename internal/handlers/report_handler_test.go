package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/lumia-chat/sentinel/internal/store"
)

type fakeErrorReporter struct {
	window time.Duration
	err    error
}

func (f *fakeErrorReporter) Report(_ context.Context, window time.Duration) (*store.ErrorReport, error) {
	f.window = window
	if f.err != nil {
		return nil, f.err
	}
	return &store.ErrorReport{}, nil
}

type fakeLatencyReporter struct {
	window time.Duration
}

func (f *fakeLatencyReporter) LatencyReport(_ context.Context, window time.Duration) (*store.LatencyReport, error) {
	f.window = window
	return &store.LatencyReport{}, nil
}

func newReportApp(errs *fakeErrorReporter, traces *fakeLatencyReporter) *fiber.App {
	h := NewReportHandler(errs, traces)
	app := fiber.New()
	app.Get("/errors/report", h.Errors)
	app.Get("/traces/latency", h.Latency)
	return app
}

func TestReportWindowDefaultsAndClamps(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  time.Duration
	}{
		{"default", "", 24 * time.Hour},
		{"explicit", "?hours=6", 6 * time.Hour},
		{"capped at a week", "?hours=900", 168 * time.Hour},
		{"nonsense falls back", "?hours=-2", 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := &fakeErrorReporter{}
			app := newReportApp(errs, &fakeLatencyReporter{})

			resp, err := app.Test(httptest.NewRequest("GET", "/errors/report"+tt.query, nil))
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)
			require.Equal(t, tt.want, errs.window)
		})
	}
}

func TestLatencyReportUsesSameWindowRules(t *testing.T) {
	traces := &fakeLatencyReporter{}
	app := newReportApp(&fakeErrorReporter{}, traces)

	resp, err := app.Test(httptest.NewRequest("GET", "/traces/latency?hours=48", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 48*time.Hour, traces.window)
}

func TestReportFailureReturns500(t *testing.T) {
	errs := &fakeErrorReporter{err: errors.New("db closed")}
	app := newReportApp(errs, &fakeLatencyReporter{})

	resp, err := app.Test(httptest.NewRequest("GET", "/errors/report", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
