package provider

import (
	"context"
	"time"
)

// Retry runs fn up to 1+retries times with linearly increasing backoff.
// It returns nil on the first success and the last error otherwise.
func Retry(ctx context.Context, retries int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		delay := backoff * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
