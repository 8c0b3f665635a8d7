// Package retry re-runs operations that lost a race, such as a unique
// number collision.
package retry

import (
	"context"
	"math/rand"
	"time"

	"material-exchange-backend/internal/logger"
)

// Do calls fn up to attempts times while retryable(err) holds, sleeping
// baseDelay·2^n plus up to baseDelay of jitter between tries. Any other
// error, or the last retryable one, is returned as is.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		logger.Debug("Retrying operation", "attempt", i+1, "error", err)
		delay := baseDelay << i
		if baseDelay > 0 {
			delay += time.Duration(rand.Int63n(int64(baseDelay)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
