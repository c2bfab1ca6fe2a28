package trace

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/lumia-chat/sentinel/internal/models"
)

type memTraceSink struct {
	mu   sync.Mutex
	rows []*models.Trace
	err  error
}

func (m *memTraceSink) InsertTrace(_ context.Context, t *models.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, t)
	return nil
}

func (m *memTraceSink) all() []*models.Trace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Trace, len(m.rows))
	copy(out, m.rows)
	return out
}

func TestStartBindsTraceIntoContext(t *testing.T) {
	r := NewRecorder(&memTraceSink{}, time.Second)

	ctx, tr := r.Start(context.Background(), 42, "/quiz", "quiz.q1")
	require.Same(t, tr, FromContext(ctx))
	require.Len(t, tr.TraceID, 12)
	require.Equal(t, int64(42), tr.UserID)
	require.Equal(t, "/quiz", tr.Command)
	require.Equal(t, "quiz.q1", tr.State)
}

func TestStartTruncatesLongCommands(t *testing.T) {
	r := NewRecorder(&memTraceSink{}, 0)

	_, tr := r.Start(context.Background(), 1, strings.Repeat("x", 150), "")
	require.Len(t, []rune(tr.Command), 100)
}

func TestFinishWritesExactlyOnce(t *testing.T) {
	sink := &memTraceSink{}
	r := NewRecorder(sink, time.Second)

	ctx, tr := r.Start(context.Background(), 7, "/feed", "feed.scroll")
	done := tr.Span("llm_generate")
	done(map[string]interface{}{"model": "sonnet"})

	r.Finish(ctx, tr)
	r.Finish(ctx, tr)

	rows := sink.all()
	require.Len(t, rows, 1, "a trace is write-once")

	row := rows[0]
	require.Equal(t, tr.TraceID, row.TraceID)
	require.Equal(t, int64(7), row.UserID)
	require.GreaterOrEqual(t, row.TotalMs, 0)
	require.Equal(t, "llm_generate", gjson.GetBytes(row.Spans, "0.name").String())
	require.Equal(t, "sonnet", gjson.GetBytes(row.Spans, "0.metadata.model").String())
}

func TestFinishToleratesNilTraceAndSinkFailure(t *testing.T) {
	sink := &memTraceSink{err: context.DeadlineExceeded}
	r := NewRecorder(sink, 0)

	r.Finish(context.Background(), nil)

	ctx, tr := r.Start(context.Background(), 1, "cb:menu", "")
	r.Finish(ctx, tr)
	require.Empty(t, sink.all(), "a failed write is dropped, not retried")
}

func TestSnapshotCopiesSpans(t *testing.T) {
	r := NewRecorder(&memTraceSink{}, 0)
	_, tr := r.Start(context.Background(), 1, "/learn", "")

	tr.Span("fetch")(nil)
	tr.Span("render")(map[string]interface{}{"cards": 3})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "fetch", snap[0].Name)
	require.Equal(t, "render", snap[1].Name)

	snap[0].Name = "mutated"
	require.Equal(t, "fetch", tr.Snapshot()[0].Name)
}
