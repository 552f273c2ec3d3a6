package domain

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a composable retry policy applied uniformly at each external
// call site: max attempts, exponential backoff bounds, and a retryable-error
// predicate. A server-supplied rate-limit hint overrides the computed delay.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether an error is worth another attempt.
	// Nil means retry transient and rate-limited errors only.
	Retryable func(error) bool
}

// DefaultRetryPolicy mirrors the settings used across the adapters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	if _, ok := IsRateLimited(err); ok {
		return true
	}
	return errors.Is(err, ErrTransientService)
}

// hintBackOff prefers the server retry-after hint from the last error over
// the wrapped exponential schedule.
type hintBackOff struct {
	inner   backoff.BackOff
	lastErr *error
}

func (h *hintBackOff) NextBackOff() time.Duration {
	next := h.inner.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if h.lastErr != nil && *h.lastErr != nil {
		if hint, ok := IsRateLimited(*h.lastErr); ok && hint > 0 {
			return hint
		}
	}
	return next
}

func (h *hintBackOff) Reset() { h.inner.Reset() }

// Do runs op under the policy and returns the number of attempts made.
// Non-retryable errors stop immediately; retryable ones are re-attempted
// until MaxAttempts is exhausted, at which point the last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		expo.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		expo.MaxInterval = p.MaxDelay
	}
	if p.Multiplier > 0 {
		expo.Multiplier = p.Multiplier
	}
	expo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	var lastErr error
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op(ctx)
		lastErr = err
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var bo backoff.BackOff = &hintBackOff{inner: expo, lastErr: &lastErr}
	bo = backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	if err := backoff.Retry(wrapped, bo); err != nil {
		return attempts, err
	}
	return attempts, nil
}
