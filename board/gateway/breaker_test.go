package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func transientErr() error {
	return &CallError{Provider: "p", Code: "unavailable", Retryable: true, Err: errors.New("boom")}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("call %d should be allowed while closed", i)
		}
		b.Record(transientErr())
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v below threshold, want closed", b.State())
	}

	b.Allow()
	b.Record(transientErr())
	if b.State() != StateOpen {
		t.Fatalf("state = %v after threshold failures, want open", b.State())
	}
	if b.Allow() {
		t.Error("open circuit should reject calls")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Record(transientErr())
	b.Record(transientErr())
	b.Record(nil)
	b.Record(transientErr())
	b.Record(transientErr())

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (success resets the streak)", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := time.Now()
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	b.Record(transientErr())
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Before cooldown: still rejecting.
	if b.Allow() {
		t.Fatal("should reject before cooldown")
	}

	clock = clock.Add(time.Minute)

	t.Run("single probe admitted", func(t *testing.T) {
		if !b.Allow() {
			t.Fatal("probe should be admitted after cooldown")
		}
		if b.Allow() {
			t.Error("only one probe may be in flight")
		}
	})

	t.Run("failed probe re-opens", func(t *testing.T) {
		b.Record(transientErr())
		if b.State() != StateOpen {
			t.Errorf("state = %v after failed probe, want open", b.State())
		}
		if b.Allow() {
			t.Error("re-opened circuit should reject")
		}
	})

	t.Run("successful probe closes", func(t *testing.T) {
		clock = clock.Add(time.Minute)
		if !b.Allow() {
			t.Fatal("probe should be admitted after second cooldown")
		}
		b.Record(nil)
		if b.State() != StateClosed {
			t.Errorf("state = %v after successful probe, want closed", b.State())
		}
		if !b.Allow() {
			t.Error("closed circuit should allow calls")
		}
	})
}

func TestBreakerIgnoresContextErrors(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	b.Record(context.Canceled)
	b.Record(context.DeadlineExceeded)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (context errors say nothing about provider health)", b.State())
	}
}
