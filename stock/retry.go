package stock

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// RETRY POLICY - Bounded retry on optimistic-lock conflicts
// =============================================================================

// RetryPolicy retries a whole transaction when it loses a version check.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration

	// OnRetry is called before each new attempt (metrics, debug logs).
	OnRetry func(operation string, attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 10 * time.Millisecond}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. Exhaustion yields a ConcurrentModificationError.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(operation, attempt, err)
		}
		if p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff * time.Duration(attempt)):
			}
		}
	}
	return &ConcurrentModificationError{Operation: operation, Attempts: attempts}
}
