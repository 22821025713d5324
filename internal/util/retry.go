package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay and returns the first successful result, or the last error if
// every attempt failed. Context cancellation between attempts ends the loop.
func Retry[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err = fn()
		if err == nil {
			return out, nil
		}
		if attempt == maxAttempts {
			break
		}
		slog.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return out, err
}
