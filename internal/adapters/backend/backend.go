// Package backend adapts functions and generate-style clients to
// ports.Backend so the fallback executor never has to check capabilities.
package backend

import (
	"context"
	"fmt"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
)

// SingleFunc is a backend that only knows how to process one request.
// ProcessBatch runs the items one by one and fails on the first error.
type SingleFunc[In, Out any] func(ctx context.Context, item In) (Out, error)

func (f SingleFunc[In, Out]) ProcessOne(ctx context.Context, item In) (Out, error) {
	return f(ctx, item)
}

func (f SingleFunc[In, Out]) ProcessBatch(ctx context.Context, items []In) ([]Out, error) {
	out := make([]Out, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := f(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// BatchFunc is a backend that only knows how to process lists.
// ProcessOne sends a one-item list.
type BatchFunc[In, Out any] func(ctx context.Context, items []In) ([]Out, error)

func (f BatchFunc[In, Out]) ProcessOne(ctx context.Context, item In) (Out, error) {
	var zero Out
	out, err := f(ctx, []In{item})
	if err != nil {
		return zero, err
	}
	if len(out) == 0 {
		return zero, domain.ErrEmptyResult
	}
	return out[0], nil
}

func (f BatchFunc[In, Out]) ProcessBatch(ctx context.Context, items []In) ([]Out, error) {
	return f(ctx, items)
}

// Generator is a model-style client that produces one output per prompt.
type Generator[In, Out any] interface {
	Generate(ctx context.Context, prompt In) (Out, error)
}

// FromGenerator wraps g as a backend.
func FromGenerator[In, Out any](g Generator[In, Out]) ports.Backend[In, Out] {
	return SingleFunc[In, Out](g.Generate)
}

var (
	_ ports.Backend[int, int] = SingleFunc[int, int](nil)
	_ ports.Backend[int, int] = BatchFunc[int, int](nil)
)
