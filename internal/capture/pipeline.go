package capture

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lumia-chat/sentinel/internal/models"
)

const flushTimeout = 10 * time.Second

// Sink persists one aggregated error group. The implementation increments a
// same-key row last seen inside the coalescing window, or inserts a new one.
type Sink interface {
	UpsertError(ctx context.Context, entry *models.ErrorLog, window time.Duration) error
}

// Pipeline buffers captured events in a bounded queue and flushes them to the
// store on a fixed interval, deduplicated by error key. Producers never
// block: on a full queue the event is dropped and the drop is reported
// through the side channel, never through the logging pipeline itself.
type Pipeline struct {
	sink     Sink
	window   time.Duration
	interval time.Duration

	queue    chan Event
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}

	dropped atomic.Int64
}

func NewPipeline(sink Sink, queueSize int, flushInterval, coalesceWindow time.Duration) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1000
	}
	p := &Pipeline{
		sink:     sink,
		window:   coalesceWindow,
		interval: flushInterval,
		queue:    make(chan Event, queueSize),
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go p.flushLoop()
	return p
}

// Enqueue adds an event without blocking. Returns false when the queue was
// full and the event was dropped.
func (p *Pipeline) Enqueue(e Event) bool {
	select {
	case p.queue <- e:
		return true
	default:
		n := p.dropped.Add(1)
		if n%100 == 1 {
			p.sideReport(fmt.Sprintf("capture queue full, %d events dropped", n), nil)
		}
		return false
	}
}

// QueueDepth returns the number of events waiting for the next flush.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

// Dropped returns the total number of events dropped on a full queue.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pipeline) flushLoop() {
	defer close(p.finished)
	for {
		if stopped := p.runLoop(); stopped {
			return
		}
		// The loop only exits here after a recovered panic; restart after a
		// short pause so a persistent fault cannot spin.
		time.Sleep(time.Second)
	}
}

// runLoop returns true when the pipeline was stopped, false after a
// recovered panic.
func (p *Pipeline) runLoop() (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			p.sideReport(fmt.Sprintf("capture flush loop panic: %v", r), nil)
			stopped = false
		}
	}()
	for {
		select {
		case <-p.ticker.C:
			p.Flush()
		case <-p.done:
			p.Flush()
			return true
		}
	}
}

// Stop drains the queue one last time and returns once the flush loop
// has exited.
func (p *Pipeline) Stop() {
	p.ticker.Stop()
	close(p.done)
	<-p.finished
}

// Flush drains the queue, groups events by error key and upserts each group.
// Row-level failures are reported to the side channel and skipped; one bad
// group never blocks the rest of the batch.
func (p *Pipeline) Flush() {
	batch := p.drain()
	if len(batch) == 0 {
		return
	}

	groups := groupByKey(batch)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for _, entry := range groups {
		if err := p.sink.UpsertError(ctx, entry, p.window); err != nil {
			p.sideReport("capture flush upsert failed for key "+entry.ErrorKey, err)
		}
	}
}

func (p *Pipeline) drain() []Event {
	var batch []Event
	for {
		select {
		case e := <-p.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

// groupByKey merges events sharing an error key: counts are summed, the
// newest occurrence supplies message/traceback/context, the oldest supplies
// first-seen.
func groupByKey(batch []Event) []*models.ErrorLog {
	byKey := make(map[string]*models.ErrorLog)
	order := make([]string, 0, len(batch))

	for _, e := range batch {
		entry, ok := byKey[e.Key]
		if !ok {
			byKey[e.Key] = &models.ErrorLog{
				ErrorKey:        e.Key,
				Level:           e.Level,
				LoggerName:      e.LoggerName,
				Message:         e.Message,
				Traceback:       e.Traceback,
				TraceID:         e.TraceID,
				UserID:          e.UserID,
				Command:         e.Command,
				State:           e.State,
				OccurrenceCount: 1,
				FirstSeenAt:     e.At,
				LastSeenAt:      e.At,
			}
			order = append(order, e.Key)
			continue
		}
		entry.OccurrenceCount++
		if e.At.Before(entry.FirstSeenAt) {
			entry.FirstSeenAt = e.At
		}
		if !e.At.Before(entry.LastSeenAt) {
			entry.LastSeenAt = e.At
			entry.Message = e.Message
			entry.Traceback = e.Traceback
			entry.TraceID = e.TraceID
			entry.UserID = e.UserID
			entry.Command = e.Command
			entry.State = e.State
		}
	}

	out := make([]*models.ErrorLog, 0, len(byKey))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// sideReport routes capture-path failures around the logging pipeline:
// sentry plus stderr, never slog, so a failing capture path cannot feed
// itself.
func (p *Pipeline) sideReport(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	sentry.CaptureMessage(msg)
	fmt.Fprintln(os.Stderr, "[capture] "+msg)
}
