package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Queue serializes calls to a rate-limited provider with a fixed spacing
// between requests. Burst is 1 so concurrent callers line up.
type Queue struct {
	limiter *rate.Limiter
}

func NewQueue(spacing time.Duration) *Queue {
	if spacing <= 0 {
		spacing = time.Second
	}
	return &Queue{limiter: rate.NewLimiter(rate.Every(spacing), 1)}
}

func (q *Queue) Wait(ctx context.Context) error {
	if q == nil || q.limiter == nil {
		return nil
	}
	return q.limiter.Wait(ctx)
}
