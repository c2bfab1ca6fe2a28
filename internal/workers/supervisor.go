// Package workers runs the periodic jobs (capture flush, detectors,
// alerting, retention) on their own tickers. A panicking job is logged
// and keeps its schedule instead of killing the process.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Supervisor struct {
	log    *slog.Logger
	jobs   []Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Add registers a job. All jobs must be added before Start.
func (s *Supervisor) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(runCtx, job)
	}
	s.log.Info("workers started", "count", len(s.jobs))
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("workers stopped")
}

func (s *Supervisor) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

// runOnce isolates one invocation, so a panic ends the run, not the
// job's schedule.
func (s *Supervisor) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			s.log.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		s.log.Error("job failed", "job", job.Name, "error", err)
	}
}
