/**
 * @description
 * This package provides the shared retry policy used across the service for
 * transient infrastructure failures: tenant database connects, provider API
 * calls, and queue redelivery decisions. The same parameterized policy backs
 * every call site instead of each one hand-rolling its own loop.
 *
 * @dependencies
 * - context, math, math/rand, time: Standard Go libraries.
 */
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines bounded exponential backoff with jitter.
// The delay before attempt n is min(BaseDelay * Multiplier^n, MaxDelay),
// plus up to JitterFraction of itself.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultPolicy is the policy applied to tenant database provisioning and
// provider HTTP calls: 5 attempts, 500ms base delay doubling up to 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Delay returns the backoff delay preceding the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseDelay
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		delay += rand.Float64() * p.JitterFraction * delay
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The first attempt runs immediately; subsequent
// attempts wait for the policy delay. The last error is returned when all
// attempts fail.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("retry exhausted after %d attempts: %w", attempts, lastErr)
}
