package clients

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompleteFailsFastWhileCircuitOpen(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	breaker := NewBreaker(log)
	breaker.RecordFailure(anthropicEndpoint)
	breaker.RecordFailure(anthropicEndpoint)

	client := NewLLMClient("test-key", "claude-sonnet-4-20250514", breaker)
	_, err := client.Complete(context.Background(), "system", "payload", 100)
	require.ErrorContains(t, err, "circuit open")
}
