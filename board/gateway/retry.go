package gateway

import (
	"math/rand"
	"time"
)

// computeBackoff calculates the delay before a retry using exponential
// backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). Jitter spreads concurrent
// retries so a rate-limited panel of personas does not hammer the provider
// in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if attempt > 30 {
		attempt = 30 // cap the shift, maxDelay clamps anyway
	}
	delay := base * (1 << attempt)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	var jitter time.Duration
	if base > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(base)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- retry timing, not security
		}
	}
	return delay + jitter
}
