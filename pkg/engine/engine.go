package engine

import (
	"context"
	"sync"

	"github.com/bft-labs/fallbatch/internal/app"
	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// Engine batches and executes requests of type In into results of type Out.
// Create it with New, then Start it before submitting work.
type Engine[In, Out any] struct {
	opts      options
	logger    log.Logger
	lifecycle *app.Lifecycle
	executor  *app.FallbackExecutor[In, Out]

	mu      sync.RWMutex
	cfg     Config
	batcher *app.MicroBatcher[In, Result[Out]]
	cancel  context.CancelFunc
}

// New creates a stopped Engine over primary and secondary.
func New[In, Out any](primary, secondary Backend[In, Out], cfg Config, opts ...Option) (*Engine[In, Out], error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)

	var observer app.StateObserver
	if o.stateHandler != nil {
		observer = o.stateHandler
	}

	executor, err := app.NewFallbackExecutor(primary, secondary, app.ExecutorConfig{
		Name:            cfg.Name,
		MaxRetries:      cfg.MaxRetries,
		Timeout:         cfg.Timeout,
		HandledErrors:   cfg.HandledErrors,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
		EmptyResult:     o.emptyResult,
		Logger:          logger,
		Metrics:         o.metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Engine[In, Out]{
		opts:      o,
		logger:    logger,
		lifecycle: app.NewLifecycle(logger, observer),
		executor:  executor,
		cfg:       cfg,
	}, nil
}

// Start opens the engine for work and initializes plugins. ctx bounds the
// plugins' lifetime. Plugins may read and apply tuning from Initialize.
func (e *Engine[In, Out]) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.lifecycle.CanStart() {
		e.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	if err := e.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		e.mu.Unlock()
		return err
	}

	batcher, err := app.NewMicroBatcher(e.executor.BatchFunc(), app.BatcherConfig{
		Name:         e.cfg.Name,
		MaxBatchSize: e.cfg.MaxBatchSize,
		FlushTimeout: e.cfg.FlushTimeout,
		WaitTimeout:  e.cfg.WaitTimeout,
		Logger:       e.logger,
		Metrics:      e.opts.metrics,
	})
	if err != nil {
		e.mu.Unlock()
		_ = e.lifecycle.TransitionTo(app.StateCrashed, "batcher: "+err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.lifecycle.SetCancel(cancel)
	e.cancel = cancel
	// Submissions are still refused while Starting; Retune from a plugin
	// already reaches this batcher.
	e.batcher = batcher
	pluginCfg := PluginConfig{Name: e.cfg.Name, Logger: e.logger, Tuner: e}
	e.mu.Unlock()

	// The Starting state keeps other Start calls out; e.mu stays free so
	// plugins can use the Tuner.
	for i, p := range e.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			e.logger.Error("plugin initialization failed", log.String("plugin", p.Name()), log.Err(err))
			e.shutdownPlugins(i - 1)
			cancel()
			batcher.Shutdown()
			e.mu.Lock()
			e.batcher = nil
			e.mu.Unlock()
			_ = e.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		e.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	return e.lifecycle.TransitionTo(app.StateRunning, "engine started")
}

// Stop shuts plugins down, drains the pending batch and closes the engine.
// It returns ErrShutdownTimeout when the drain outlives the stop timeout.
func (e *Engine[In, Out]) Stop() error {
	e.mu.Lock()
	if !e.lifecycle.CanStop() {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := e.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		e.mu.Unlock()
		return err
	}
	batcher := e.batcher
	e.mu.Unlock()

	e.lifecycle.Cancel()
	e.shutdownPlugins(len(e.opts.plugins) - 1)

	if batcher != nil {
		e.lifecycle.Go(batcher.Shutdown)
	}
	err := e.lifecycle.Wait(e.opts.stopTimeout)
	if err != nil {
		_ = e.lifecycle.TransitionTo(app.StateCrashed, "drain timeout")
		return err
	}
	return e.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
}

// shutdownPlugins shuts plugins [0, last] down in reverse order.
func (e *Engine[In, Out]) shutdownPlugins(last int) {
	ctx := context.Background()
	for i := last; i >= 0; i-- {
		p := e.opts.plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			e.logger.Error("plugin shutdown failed", log.String("plugin", p.Name()), log.Err(err))
			continue
		}
		e.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
	}
}

// Status returns the lifecycle state.
func (e *Engine[In, Out]) Status() State {
	return e.lifecycle.State()
}

func (e *Engine[In, Out]) runningBatcher() (*app.MicroBatcher[In, Result[Out]], error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.lifecycle.Running() || e.batcher == nil {
		return nil, domain.ErrNotRunning
	}
	return e.batcher, nil
}

// Submit adds item to the current micro-batch and returns its result once
// the batch has run through the fallback executor.
func (e *Engine[In, Out]) Submit(ctx context.Context, item In) (Out, error) {
	var zero Out
	b, err := e.runningBatcher()
	if err != nil {
		return zero, err
	}
	r, err := b.SubmitOne(ctx, item)
	if err != nil {
		return zero, err
	}
	return r.Value, r.Err
}

// SubmitBatch runs items as one batch through the fallback executor. The
// error is non-nil only when the batch itself failed; per-item failures are
// reported in the slots.
func (e *Engine[In, Out]) SubmitBatch(ctx context.Context, items []In) ([]Result[Out], error) {
	b, err := e.runningBatcher()
	if err != nil {
		return nil, err
	}
	return b.SubmitBatch(ctx, items)
}

// Execute runs req through the fallback executor without batching.
func (e *Engine[In, Out]) Execute(ctx context.Context, req In) (Out, error) {
	var zero Out
	if !e.lifecycle.Running() {
		return zero, domain.ErrNotRunning
	}
	return e.executor.Execute(ctx, req)
}

// ExecuteBatch runs reqs through the fallback executor without batching.
// Failed slots carry their error; the call itself never fails once running.
func (e *Engine[In, Out]) ExecuteBatch(ctx context.Context, reqs []In) ([]Result[Out], error) {
	if !e.lifecycle.Running() {
		return nil, domain.ErrNotRunning
	}
	return e.executor.ExecuteBatch(ctx, reqs), nil
}

// Pending returns the number of items waiting in the current micro-batch.
func (e *Engine[In, Out]) Pending() int {
	b, err := e.runningBatcher()
	if err != nil {
		return 0
	}
	return b.Pending()
}

// Tuning returns the current tuning.
func (e *Engine[In, Out]) Tuning() Tuning {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.tuning()
}

// Retune applies t to the batcher and the executor. A stopped engine keeps
// t for its next Start. An invalid t changes nothing.
func (e *Engine[In, Out]) Retune(t Tuning) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cfg
	next := e.cfg
	next.apply(t)
	if err := next.Validate(); err != nil {
		return err
	}

	if err := e.executor.Retune(t.MaxRetries, t.Timeout); err != nil {
		return err
	}
	if e.batcher != nil {
		if err := e.batcher.Retune(t.MaxBatchSize, t.FlushTimeout, t.WaitTimeout); err != nil {
			if rerr := e.executor.Retune(prev.MaxRetries, prev.Timeout); rerr != nil {
				e.logger.Error("executor rollback failed", log.Err(rerr))
			}
			return err
		}
	}
	e.cfg = next
	return nil
}

var _ Tuner = (*Engine[int, int])(nil)
