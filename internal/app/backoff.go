package app

import (
	"context"
	"math/rand"
	"time"
)

// backoff spaces primary retries with exponential growth and ±20% jitter.
// A zero initial delay disables waiting entirely.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if max < initial {
		max = initial
	}
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Wait sleeps for the current delay, then doubles it up to max. It returns
// early with ctx's error when ctx is done.
func (b *backoff) Wait(ctx context.Context) error {
	if b.current <= 0 {
		return ctx.Err()
	}

	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	t := time.NewTimer(time.Duration(float64(b.current) + jitter))
	defer t.Stop()

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *backoff) Reset() {
	b.current = b.initial
}

func (b *backoff) Current() time.Duration {
	return b.current
}
