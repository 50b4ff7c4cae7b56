package ports

import "context"

// Backend is the capability every primary and secondary backend exposes.
// Both methods are always present; backends that naturally support only one
// shape are wrapped by the adapters in internal/adapters/backend.
type Backend[In, Out any] interface {
	// ProcessOne executes a single request.
	ProcessOne(ctx context.Context, item In) (Out, error)

	// ProcessBatch executes a list of requests. Implementations should
	// return one result per item, in order. A single result for a
	// multi-item input is treated by the fallback executor as an aggregate
	// that applies to every item.
	ProcessBatch(ctx context.Context, items []In) ([]Out, error)
}

// BatchFunc is the batch-processing function a micro-batcher flushes into.
type BatchFunc[In, Out any] func(ctx context.Context, items []In) ([]Out, error)
