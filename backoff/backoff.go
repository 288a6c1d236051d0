// Package backoff provides retry delay strategies for job execution.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exp(e.Initial, e.Max, attempt))
}

// Bounded grows exponentially from Min and caps at Max, then applies half
// jitter: the delay is uniform in [d/2, d]. Actors declare their retry
// bounds with it.
type Bounded struct {
	Min time.Duration
	Max time.Duration
}

// NewBounded creates a Bounded strategy.
func NewBounded(minDelay, maxDelay time.Duration) *Bounded {
	return &Bounded{Min: minDelay, Max: maxDelay}
}

// Delay returns a duration in [d/2, d] where d = min(Min * 2^(attempt-1), Max).
func (b *Bounded) Delay(attempt int) time.Duration {
	d := exp(b.Min, b.Max, attempt)
	half := d / 2
	return time.Duration(half + rand.Float64()*half) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func exp(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return d
}

// DefaultStrategy returns the strategy used when an actor declares no
// bounds: Bounded between 2s and 10m.
func DefaultStrategy() Strategy {
	return NewBounded(2*time.Second, 10*time.Minute)
}
