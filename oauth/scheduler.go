package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartScheduler launches a goroutine that drives the manager's ensure-valid
// check on a fixed period, independent of inbound chat activity. A failed
// cycle is logged and retried on the next tick; retry-across-ticks is the
// built-in backoff.
func StartScheduler(ctx context.Context, mgr *Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if !mgr.EnsureValid(ctx) {
				slog.Warn("scheduled token check failed; retrying next tick")
			}
		}
	}()
}
