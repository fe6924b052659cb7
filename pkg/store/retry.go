package store

import (
	"context"
	"time"
)

// Transient-fault retry budget for backend I/O. Permanent errors (not found,
// conflict, invalid transition) pass through on the first attempt.
const retryAttempts = 3

var retryBackoffs = []time.Duration{50 * time.Millisecond, 250 * time.Millisecond}

// Retry runs op up to the retry budget, backing off between attempts while
// the failure classifies as ErrUnavailable. The context cancels the wait.
func Retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil || !IsUnavailable(lastErr) {
			return lastErr
		}
		if attempt < retryAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoffs[attempt]):
			}
		}
	}
	return lastErr
}
