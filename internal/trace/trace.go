package trace

import (
	"context"
	"sync"
	"time"
)

// Span is one timed step inside a request trace.
type Span struct {
	Name       string                 `json:"name"`
	DurationMs int                    `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Trace accumulates spans for one logical request. Exactly one trace exists
// per request; nested operations reach it through the context. A trace is
// persisted once by Recorder.Finish and is write-once after that.
type Trace struct {
	TraceID string
	UserID  int64
	Command string
	State   string

	mu       sync.Mutex
	spans    []Span
	started  time.Time
	finished bool

	slowThreshold time.Duration
}

// Snapshot returns a copy of the collected spans.
func (t *Trace) Snapshot() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

type ctxKey struct{}

// NewContext binds a trace to the context for implicit propagation.
func NewContext(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the active trace, or nil when the context carries none.
func FromContext(ctx context.Context) *Trace {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(ctxKey{}).(*Trace)
	return t
}
