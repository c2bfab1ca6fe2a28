package trace

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lumia-chat/sentinel/internal/models"
	"gorm.io/datatypes"
)

const maxCommandLen = 100

// Sink persists finished traces.
type Sink interface {
	InsertTrace(ctx context.Context, t *models.Trace) error
}

// Recorder creates and persists request traces. Persistence is best-effort:
// a failed write is logged and dropped, never surfaced to the request path.
type Recorder struct {
	sink          Sink
	slowThreshold time.Duration
}

func NewRecorder(sink Sink, slowThreshold time.Duration) *Recorder {
	return &Recorder{sink: sink, slowThreshold: slowThreshold}
}

// Start creates a trace for a logical request and binds it into the returned
// context so nested operations (and the error capture handler) can reach it.
func (r *Recorder) Start(ctx context.Context, userID int64, command, state string) (context.Context, *Trace) {
	if cr := []rune(command); len(cr) > maxCommandLen {
		command = string(cr[:maxCommandLen])
	}
	u := uuid.New()
	t := &Trace{
		TraceID:       hex.EncodeToString(u[:])[:12],
		UserID:        userID,
		Command:       command,
		State:         state,
		started:       time.Now(),
		slowThreshold: r.slowThreshold,
	}
	return NewContext(ctx, t), t
}

// Span starts a timed span on the trace; the returned func records it.
// Spans over the slow threshold log at Warn so they show up without a full
// latency report.
func (t *Trace) Span(name string) func(metadata map[string]interface{}) {
	start := time.Now()
	return func(metadata map[string]interface{}) {
		elapsed := time.Since(start)
		t.mu.Lock()
		t.spans = append(t.spans, Span{
			Name:       name,
			DurationMs: int(elapsed.Milliseconds()),
			Metadata:   metadata,
		})
		t.mu.Unlock()

		if t.slowThreshold > 0 && elapsed > t.slowThreshold {
			slog.Warn("slow span",
				"trace_id", t.TraceID,
				"span", name,
				"duration_ms", elapsed.Milliseconds(),
				"command", t.Command)
		}
	}
}

// Finish computes the total duration and writes the trace exactly once.
func (r *Recorder) Finish(ctx context.Context, t *Trace) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	total := time.Since(t.started)
	spans := make([]Span, len(t.spans))
	copy(spans, t.spans)
	t.mu.Unlock()

	spansJSON, err := json.Marshal(spans)
	if err != nil {
		spansJSON = []byte("[]")
	}

	row := &models.Trace{
		TraceID:   t.TraceID,
		UserID:    t.UserID,
		Command:   t.Command,
		State:     t.State,
		Spans:     datatypes.JSON(spansJSON),
		TotalMs:   int(total.Milliseconds()),
		CreatedAt: time.Now(),
	}
	if err := r.sink.InsertTrace(ctx, row); err != nil {
		slog.Error("trace persist failed", "trace_id", t.TraceID, "error", err)
	}
}
