package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumia-chat/sentinel/internal/models"
)

type memorySink struct {
	mu      sync.Mutex
	entries []*models.ErrorLog
	failKey string
}

func (m *memorySink) UpsertError(_ context.Context, entry *models.ErrorLog, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failKey != "" && entry.ErrorKey == m.failKey {
		return errors.New("insert failed")
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memorySink) all() []*models.ErrorLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ErrorLog, len(m.entries))
	copy(out, m.entries)
	return out
}

func TestFlushGroupsByKey(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(sink, 16, time.Hour, time.Hour)
	defer p.Stop()

	t0 := time.Now().UTC().Add(-3 * time.Minute)
	p.Enqueue(Event{Key: "aaaa111122223333", Message: "first", At: t0})
	p.Enqueue(Event{Key: "aaaa111122223333", Message: "newest", At: t0.Add(time.Minute)})
	p.Enqueue(Event{Key: "bbbb111122223333", Message: "other", At: t0})
	p.Flush()

	entries := sink.all()
	require.Len(t, entries, 2)
	require.Equal(t, "aaaa111122223333", entries[0].ErrorKey)
	require.Equal(t, 2, entries[0].OccurrenceCount)
	require.Equal(t, "newest", entries[0].Message, "the latest occurrence supplies the message")
	require.Equal(t, t0, entries[0].FirstSeenAt)
	require.True(t, entries[0].LastSeenAt.After(entries[0].FirstSeenAt))
	require.Equal(t, "bbbb111122223333", entries[1].ErrorKey)
	require.Equal(t, 1, entries[1].OccurrenceCount)
}

func TestEnqueueDropsOnFullQueue(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(sink, 2, time.Hour, time.Hour)

	require.True(t, p.Enqueue(Event{Key: "k1"}))
	require.True(t, p.Enqueue(Event{Key: "k2"}))
	require.False(t, p.Enqueue(Event{Key: "k3"}))
	require.Equal(t, int64(1), p.Dropped())
	require.Equal(t, 2, p.QueueDepth())

	// Stop performs the final drain; the two queued events survive, the
	// dropped one is gone.
	p.Stop()
	require.Len(t, sink.all(), 2)
}

func TestFlushSkipsFailedRowAndKeepsGoing(t *testing.T) {
	sink := &memorySink{failKey: "bad0000000000000"}
	p := NewPipeline(sink, 8, time.Hour, time.Hour)
	defer p.Stop()

	p.Enqueue(Event{Key: "bad0000000000000", Message: "doomed"})
	p.Enqueue(Event{Key: "good000000000000", Message: "fine"})
	p.Flush()

	entries := sink.all()
	require.Len(t, entries, 1)
	require.Equal(t, "good000000000000", entries[0].ErrorKey)
	require.Equal(t, 0, p.QueueDepth())
}
