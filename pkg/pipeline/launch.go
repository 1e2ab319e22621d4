package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// launchLimiter spaces out speed test process starts so that concurrent tests
// do not all ramp up in the same instant.
type launchLimiter struct {
	limiter *rate.Limiter
}

func newLaunchLimiter(interval time.Duration) *launchLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &launchLimiter{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next process may start.
func (l *launchLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
