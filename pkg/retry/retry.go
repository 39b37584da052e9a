// Package retry implements the exponential backoff described in spec §7:
// 500ms initial delay, doubling each attempt, capped at 10s per wait and
// 30s of total elapsed time, applied only to errors the caller's error
// package marks retryable.
package retry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

const (
	initialDelay = 500 * time.Millisecond
	maxDelay     = 10 * time.Second
	maxElapsed   = 30 * time.Second
	multiplier   = 2.0
)

// IsRetryable reports whether an error returned by the wrapped function
// should trigger another attempt. Callers normally pass
// internal/errors.IsRetryable.
type IsRetryable func(error) bool

// Do runs fn, retrying with exponential backoff while isRetryable(err) is
// true and the total elapsed time budget has not been exhausted. It
// returns the last error seen, or nil on success. Retrying stops
// immediately if ctx is done.
func Do(ctx context.Context, log logr.Logger, isRetryable IsRetryable, fn func() error) error {
	start := time.Now()
	delay := initialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if time.Since(start)+delay > maxElapsed {
			log.V(1).Info("retry budget exhausted", "attempt", attempt, "error", lastErr.Error())
			return lastErr
		}

		log.V(1).Info("retrying after transient error", "attempt", attempt, "delay", delay.String(), "error", lastErr.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
