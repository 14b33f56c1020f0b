package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned (wrapped in a *CallError) when a provider's
// circuit is open and calls fail fast without reaching the provider.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the current position of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all calls.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe call; success closes the
	// circuit, failure re-opens it.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a per-provider circuit breaker.
//
// Closed → open after threshold consecutive failures; open → half-open
// after the cooldown; half-open → closed on a successful probe, back to
// open on a failed one. Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool

	// now is swappable for tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker that opens after threshold
// consecutive failures and probes again after cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only
// one probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Record feeds a call outcome back into the breaker. A nil error is a
// success; context cancellation is ignored (says nothing about provider
// health).
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		b.probing = false
		return
	}

	if err == nil {
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.probing = false
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = 0
	b.openedAt = b.now()
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Surface the pending half-open transition without requiring Allow.
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
