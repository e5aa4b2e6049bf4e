package fred

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces the upstream requests-per-minute cap with a sliding
// one-minute window. A limit of zero disables it.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	stamps []time.Time

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		limit: perMinute,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// wait blocks until a request slot is free or the context is cancelled.
func (r *rateLimiter) wait(ctx context.Context) error {
	if r.limit <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		now := r.now()
		cutoff := now.Add(-time.Minute)
		kept := r.stamps[:0]
		for _, s := range r.stamps {
			if s.After(cutoff) {
				kept = append(kept, s)
			}
		}
		r.stamps = kept
		if len(r.stamps) < r.limit {
			r.stamps = append(r.stamps, now)
			r.mu.Unlock()
			return nil
		}
		// sleep until the oldest stamp leaves the window
		wait := r.stamps[0].Sub(cutoff)
		r.mu.Unlock()

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
