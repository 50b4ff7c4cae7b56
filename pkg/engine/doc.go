// Package engine is the embeddable batching-and-fallback execution engine.
//
// An Engine combines a micro-batcher, which coalesces single submissions
// into bounded batches, with a fallback executor, which runs work on a
// primary backend with bounded retries and demotes to a secondary backend
// when the primary is exhausted.
//
// Two compositions are available on the same Engine:
//
//   - Submit and SubmitBatch batch first and run every flushed batch
//     through the executor's batch path.
//   - Execute and ExecuteBatch skip the batcher.
//
// Basic usage:
//
//	eng, err := engine.New[Req, Resp](primary, secondary, engine.Config{
//		MaxBatchSize: 20,
//		FlushTimeout: 50 * time.Millisecond,
//		MaxRetries:   2,
//		Timeout:      time.Second,
//	}, engine.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := eng.Start(ctx); err != nil {
//		return err
//	}
//	defer eng.Stop()
//
//	resp, err := eng.Submit(ctx, req)
//
// Backends implement Backend; internal adapters cover functions, batch-only
// functions and generate-style clients.
package engine
