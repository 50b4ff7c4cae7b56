package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// ExecutorConfig configures a FallbackExecutor.
type ExecutorConfig struct {
	// Name labels log lines and metrics.
	Name string

	// MaxRetries is the number of primary attempts beyond the first.
	MaxRetries int

	// Timeout bounds every single backend call. Zero means unbounded.
	Timeout time.Duration

	// HandledErrors lists the errors (matched with errors.Is) that make a
	// primary failure retryable. Empty means every error is retryable.
	// Empty results are always retryable.
	HandledErrors []error

	// RetryBackoff is the initial delay between primary attempts, doubling
	// up to RetryBackoffMax. Zero disables the delay.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// EmptyResult reports whether a backend value counts as "no result".
	// Default: IsEmpty.
	EmptyResult func(v any) bool

	Logger  log.Logger
	Metrics ports.Metrics
}

func (c ExecutorConfig) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", domain.ErrInvalidConfig, c.MaxRetries)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", domain.ErrInvalidConfig)
	}
	if c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		return fmt.Errorf("%w: retry backoff must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// FallbackExecutor runs requests against a primary backend with bounded
// retries and demotes to a secondary backend once the primary is exhausted.
//
// Execute and ExecuteBatch hold one executor-wide lock for their whole
// duration, so fallback decisions of one instance are strictly serialized.
// Worst-case latency of Execute is (MaxRetries+1)*Timeout plus one more
// Timeout for the secondary. Use several executors when throughput matters.
type FallbackExecutor[In, Out any] struct {
	name      string
	primary   ports.Backend[In, Out]
	secondary ports.Backend[In, Out]
	logger    log.Logger
	metrics   ports.Metrics
	empty     func(v any) bool

	// All further fields are protected by mu.
	mu         sync.Mutex
	maxRetries int
	timeout    time.Duration
	classifier classifier
	backoff    *backoff
}

// NewFallbackExecutor creates an executor over primary and secondary.
func NewFallbackExecutor[In, Out any](primary, secondary ports.Backend[In, Out], cfg ExecutorConfig) (*FallbackExecutor[In, Out], error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("%w: primary and secondary backends are required", domain.ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.EmptyResult == nil {
		cfg.EmptyResult = IsEmpty
	}

	return &FallbackExecutor[In, Out]{
		name:       cfg.Name,
		primary:    primary,
		secondary:  secondary,
		logger:     log.OrNoop(cfg.Logger).With(log.String("executor", cfg.Name)),
		metrics:    orNoopMetrics(cfg.Metrics),
		empty:      cfg.EmptyResult,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		classifier: classifier{handled: cfg.HandledErrors},
		backoff:    newBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax),
	}, nil
}

// Execute runs req on the primary, retrying up to MaxRetries more times,
// then once on the secondary. The returned error wraps both
// domain.ErrBothSystemsFailed and the secondary's failure.
func (e *FallbackExecutor[In, Out]) Execute(ctx context.Context, req In) (Out, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeLocked(ctx, req)
}

// ExecuteBatch runs reqs and returns one slot per request, in order. It
// never fails as a whole: slots that could not be produced carry an error.
//
// Each backend is tried through three entry points in turn: its batch call
// when the result count matches, its batch call broadcasting a single
// aggregate result, and finally per-item calls (on the primary these are
// full Execute calls, including their own fallback). The secondary gets
// the same treatment only when the primary produced no value at all.
func (e *FallbackExecutor[In, Out]) ExecuteBatch(ctx context.Context, reqs []In) []domain.Result[Out] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(reqs) == 0 {
		return []domain.Result[Out]{}
	}

	tier := ports.TierPrimary
	results := e.batchLocked(ctx, tier, reqs)
	if domain.Succeeded(results) == 0 {
		e.metrics.IncFallback(e.name)
		e.logger.Info("batch falling back to secondary", log.Int("size", len(reqs)))
		tier = ports.TierSecondary
		results = e.batchLocked(ctx, tier, reqs)
	}

	ok := domain.Succeeded(results)
	e.metrics.RecordOutcome(e.name, ports.OpBatch, tier, ok > 0)
	e.logger.Debug("batch executed",
		log.Int("size", len(reqs)),
		log.Int("succeeded", ok),
		log.String("tier", string(tier)),
	)
	return results
}

// BatchFunc adapts ExecuteBatch into a micro-batcher flush function whose
// per-item results carry their own errors.
func (e *FallbackExecutor[In, Out]) BatchFunc() ports.BatchFunc[In, domain.Result[Out]] {
	return func(ctx context.Context, items []In) ([]domain.Result[Out], error) {
		return e.ExecuteBatch(ctx, items), nil
	}
}

// Retune changes the retry budget and per-attempt timeout. It waits for any
// in-flight execution to finish.
func (e *FallbackExecutor[In, Out]) Retune(maxRetries int, timeout time.Duration) error {
	if err := (ExecutorConfig{MaxRetries: maxRetries, Timeout: timeout}).validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.maxRetries = maxRetries
	e.timeout = timeout
	e.mu.Unlock()

	e.logger.Info("executor retuned", log.Int("max_retries", maxRetries), log.Duration("timeout", timeout))
	return nil
}

func (e *FallbackExecutor[In, Out]) executeLocked(ctx context.Context, req In) (Out, error) {
	var zero Out

	e.backoff.Reset()
	var last attempt
	for i := 0; i <= e.maxRetries; i++ {
		v, err := callWithTimeout(ctx, e.timeout, func(ctx context.Context) (Out, error) {
			return e.primary.ProcessOne(ctx, req)
		})
		last = e.judge(i, ports.TierPrimary, v, err)
		if last.outcome == outcomeSuccess {
			e.metrics.RecordOutcome(e.name, ports.OpSingle, ports.TierPrimary, true)
			return v, nil
		}

		e.logger.Debug("primary attempt failed",
			log.Int("attempt", last.index),
			log.String("outcome", last.outcome.String()),
			log.Err(last.err),
		)
		if !last.outcome.retryable() || i == e.maxRetries || ctx.Err() != nil {
			break
		}
		if err := e.backoff.Wait(ctx); err != nil {
			break
		}
	}

	e.metrics.RecordOutcome(e.name, ports.OpSingle, ports.TierPrimary, false)
	e.metrics.IncFallback(e.name)
	e.logger.Info("falling back to secondary",
		log.Int("attempts", last.index+1),
		log.String("outcome", last.outcome.String()),
		log.Err(last.err),
	)

	v, err := callWithTimeout(ctx, e.timeout, func(ctx context.Context) (Out, error) {
		return e.secondary.ProcessOne(ctx, req)
	})
	sec := e.judge(0, ports.TierSecondary, v, err)
	if sec.outcome != outcomeSuccess {
		e.metrics.RecordOutcome(e.name, ports.OpSingle, ports.TierSecondary, false)
		e.logger.Warn("secondary failed", log.String("outcome", sec.outcome.String()), log.Err(sec.err))
		return zero, fmt.Errorf("%w: %w", domain.ErrBothSystemsFailed, sec.err)
	}

	e.metrics.RecordOutcome(e.name, ports.OpSingle, ports.TierSecondary, true)
	return v, nil
}

func (e *FallbackExecutor[In, Out]) batchLocked(ctx context.Context, tier ports.Tier, reqs []In) []domain.Result[Out] {
	backend := e.primary
	if tier == ports.TierSecondary {
		backend = e.secondary
	}

	outs, err := callWithTimeout(ctx, e.timeout, func(ctx context.Context) ([]Out, error) {
		return backend.ProcessBatch(ctx, reqs)
	})
	if err == nil {
		switch {
		case len(outs) == len(reqs):
			results := make([]domain.Result[Out], len(reqs))
			for i, v := range outs {
				results[i] = e.slot(v)
			}
			if domain.Succeeded(results) > 0 {
				return results
			}
		case len(outs) == 1 && !e.empty(outs[0]):
			results := make([]domain.Result[Out], len(reqs))
			for i := range results {
				results[i] = domain.Result[Out]{Value: outs[0]}
			}
			return results
		}
		e.logger.Debug("batch call unusable",
			log.String("tier", string(tier)),
			log.Int("requested", len(reqs)),
			log.Int("returned", len(outs)),
		)
	} else {
		e.logger.Debug("batch call failed", log.String("tier", string(tier)), log.Err(err))
	}

	results := make([]domain.Result[Out], len(reqs))
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			results[i] = domain.Result[Out]{Err: err}
			continue
		}
		if tier == ports.TierPrimary {
			v, err := e.executeLocked(ctx, req)
			results[i] = domain.Result[Out]{Value: v, Err: err}
			continue
		}
		v, err := callWithTimeout(ctx, e.timeout, func(ctx context.Context) (Out, error) {
			return e.secondary.ProcessOne(ctx, req)
		})
		a := e.judge(0, tier, v, err)
		if a.outcome != outcomeSuccess {
			results[i] = domain.Result[Out]{Err: a.err}
			continue
		}
		results[i] = domain.Result[Out]{Value: v}
	}
	return results
}

func (e *FallbackExecutor[In, Out]) judge(index int, tier ports.Tier, v Out, err error) attempt {
	a := attempt{index: index, tier: tier, err: err}
	switch {
	case err != nil:
		a.outcome = e.classifier.classify(err)
	case e.empty(v):
		a.outcome = outcomeEmpty
		a.err = domain.ErrEmptyResult
	default:
		a.outcome = outcomeSuccess
	}
	return a
}

func (e *FallbackExecutor[In, Out]) slot(v Out) domain.Result[Out] {
	if e.empty(v) {
		return domain.Result[Out]{Err: domain.ErrEmptyResult}
	}
	return domain.Result[Out]{Value: v}
}
