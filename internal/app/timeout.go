package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
)

// callWithTimeout runs fn bounded by timeout. The call runs on its own
// goroutine so that a backend ignoring ctx still cannot hold the caller past
// the bound; its late result is dropped. A non-positive timeout only binds
// fn to the parent context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && timeout > 0 && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %w", domain.ErrAttemptTimeout, timeout, o.err)
		}
		return o.v, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", domain.ErrAttemptTimeout, timeout)
	}
}
