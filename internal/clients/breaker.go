package clients

import (
	"log/slog"
	"sync"
	"time"
)

const (
	breakerFailureThreshold = 2
	breakerRecoveryTime     = 60 * time.Second
)

type breakerState struct {
	failures    int
	lastFailure time.Time
	open        bool
}

// Breaker is a per-endpoint circuit breaker. After two consecutive failures
// calls to that endpoint fail fast until the recovery time passes, then one
// probe call is let through (half-open). State is owned by the instance, not
// a package global, so tests and multiple monitors do not share it.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	now       func() time.Time
	states    map[string]*breakerState
	log       *slog.Logger
}

func NewBreaker(log *slog.Logger) *Breaker {
	return &Breaker{
		threshold: breakerFailureThreshold,
		recovery:  breakerRecoveryTime,
		now:       time.Now,
		states:    make(map[string]*breakerState),
		log:       log,
	}
}

// Allow reports whether a call to the endpoint may proceed.
func (b *Breaker) Allow(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[endpoint]
	if !ok || !state.open {
		return true
	}
	if b.now().Sub(state.lastFailure) > b.recovery {
		b.log.Info("circuit breaker half-open", "endpoint", endpoint)
		return true
	}
	return false
}

// RecordFailure counts one failed call and opens the circuit at the
// threshold.
func (b *Breaker) RecordFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[endpoint]
	if !ok {
		state = &breakerState{}
		b.states[endpoint] = state
	}
	state.failures++
	state.lastFailure = b.now()
	if state.failures >= b.threshold && !state.open {
		state.open = true
		b.log.Warn("circuit breaker open", "endpoint", endpoint)
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[endpoint]
	if !ok {
		return
	}
	if state.failures > 0 || state.open {
		b.log.Info("circuit breaker closed", "endpoint", endpoint)
	}
	state.failures = 0
	state.open = false
}
