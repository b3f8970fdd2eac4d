// Package retry implements jittered exponential backoff for transient
// failures, the same shape the teacher used for its web search rate limiter
// (token-bucket plus jittered sleep between attempts).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures a bounded retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy retries three times total (one initial attempt + two
// retries), matching the Transient-error retry budget from the error
// taxonomy (spec §7: "Transient: retried up to 3 times with jittered
// exponential backoff").
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs fn up to p.MaxAttempts times, sleeping a jittered exponential
// backoff between attempts. It stops early if ctx is cancelled or if
// shouldRetry returns false for the latest error. The last error is returned
// if every attempt fails.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
			if jittered > p.MaxDelay {
				jittered = p.MaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered):
			}
			delay *= 2
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
	}
	return lastErr
}
