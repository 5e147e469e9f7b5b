// Package retry provides a backoff retry helper for transient failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/factweave/factweave/pkg/apperror"
)

// Policy controls the retry schedule.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

// DefaultPolicy matches the scrape retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Delay returns the sleep before retry attempt n (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2.0
	}

	d := float64(p.BaseDelay) * math.Pow(base, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter {
		d *= 0.75 + rand.Float64()*0.5
	}

	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is exhausted. Retryability comes from apperror.IsRetryable; errors
// are never matched by message. The sleep between attempts respects ctx.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !apperror.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
