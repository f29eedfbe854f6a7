// Package backoff implements the retry delay strategy the coordination
// mirror uses to space out retried etcd publishes after a failed write.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt. EtcdMirror accepts
// any Strategy via WithRetryStrategy; ExponentialWithJitter is the one it
// falls back to when the caller doesn't supply one.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ExponentialWithJitter applies full jitter to an exponential base, so a
// burst of publishes that all fail at once (an etcd leader election, a
// network partition) don't retry against the cluster in lockstep.
// Delay = random value in [0, min(Initial*2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial*2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultStrategy is the backoff EtcdMirror uses when the caller doesn't
// override it via WithRetryStrategy: a 1s initial delay doubling per
// attempt, capped at 1m. With EtcdMirror's default of 3 attempts per
// publish, only the first two delays are used (at most 1s and 2s); the
// cap is reached only from attempt 7 on.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
