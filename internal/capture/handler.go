package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumia-chat/sentinel/internal/trace"
)

const (
	maxMessageLen   = 2000
	maxTracebackLen = 4000

	defaultLoggerName = "app"
)

// Event is one captured error occurrence, before deduplication.
type Event struct {
	Key        string
	Level      string
	LoggerName string
	Message    string
	Traceback  string
	TraceID    string
	UserID     *int64
	Command    string
	State      string
	At         time.Time
}

// Handler is an slog.Handler that feeds ERROR+ records into the capture
// pipeline. It never blocks and never errors: a full queue drops the event.
type Handler struct {
	pipeline *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// Enabled only handles ERROR and above.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	e := Event{
		Level:      record.Level.String(),
		LoggerName: defaultLoggerName,
		Message:    record.Message,
		At:         record.Time,
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	var errDetail string
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "logger":
			e.LoggerName = a.Value.String()
		case "traceback":
			e.Traceback = a.Value.String()
		case "error":
			errDetail = a.Value.String()
		case "trace_id":
			e.TraceID = a.Value.String()
		case "user_id":
			if id, ok := asInt64(a.Value); ok {
				e.UserID = &id
			}
		case "command":
			e.Command = a.Value.String()
		case "state":
			e.State = a.Value.String()
		}
		return true
	})

	if errDetail != "" {
		e.Message = e.Message + ": " + errDetail
	}

	// Ambient request context, when the caller carried one.
	if t := trace.FromContext(ctx); t != nil {
		if e.TraceID == "" {
			e.TraceID = t.TraceID
		}
		if e.UserID == nil && t.UserID != 0 {
			id := t.UserID
			e.UserID = &id
		}
		if e.Command == "" {
			e.Command = t.Command
		}
		if e.State == "" {
			e.State = t.State
		}
	}

	e.Message = truncate(e.Message, maxMessageLen)
	e.Traceback = truncate(e.Traceback, maxTracebackLen)
	e.Key = Fingerprint(e.LoggerName, e.Message, e.Traceback)

	h.pipeline.Enqueue(e)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

func asInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	}
	return 0, false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
