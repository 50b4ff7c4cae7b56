package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// BatcherConfig configures a MicroBatcher.
type BatcherConfig struct {
	// Name labels log lines and metrics.
	Name string

	// MaxBatchSize is the pending batch capacity. The admission that
	// reaches it flushes synchronously.
	MaxBatchSize int

	// FlushTimeout is both the idle delay before a partial batch is flushed
	// and the bound on every call into the batch function.
	FlushTimeout time.Duration

	// WaitTimeout bounds how long a SubmitOne caller waits for its result.
	// Default: 2 * FlushTimeout (one idle period plus one processing bound).
	WaitTimeout time.Duration

	Logger  log.Logger
	Metrics ports.Metrics
}

func (c BatcherConfig) validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive, got %d", domain.ErrInvalidConfig, c.MaxBatchSize)
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("%w: flush timeout must be positive, got %s", domain.ErrInvalidConfig, c.FlushTimeout)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("%w: wait timeout must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// outcome is what a flush delivers to one waiting caller.
type outcome[Out any] struct {
	value Out
	err   error
}

// pendingEntry is one admitted item plus the ticket its caller waits on.
// The ticket is buffered so a flush never blocks on a caller that gave up.
type pendingEntry[In, Out any] struct {
	item   In
	ticket chan outcome[Out]
}

// flush is a batch taken out of pending and bound to an id.
type flush[In, Out any] struct {
	id       uint64
	entries  []*pendingEntry[In, Out]
	capacity int
	timeout  time.Duration
}

func (f *flush[In, Out]) items() []In {
	items := make([]In, len(f.entries))
	for i, e := range f.entries {
		items[i] = e.item
	}
	return items
}

// MicroBatcher coalesces single submissions into bounded batches and hands
// each batch to a batch function. Every SubmitOne caller holds a ticket that
// the flush fulfils with the result at the caller's position, so identical
// concurrent submissions never see each other's results.
type MicroBatcher[In, Out any] struct {
	name    string
	fn      ports.BatchFunc[In, Out]
	logger  log.Logger
	metrics ports.Metrics

	// All further fields are protected by mu.
	mu           sync.Mutex
	maxBatchSize int
	flushTimeout time.Duration
	waitTimeout  time.Duration
	pending      []*pendingEntry[In, Out]
	nextID       uint64
	ledger       *ledger[Out]
	processing   bool
	timer        *time.Timer
	timerGen     uint64
	draining     bool
}

// NewMicroBatcher creates a MicroBatcher flushing into fn.
func NewMicroBatcher[In, Out any](fn ports.BatchFunc[In, Out], cfg BatcherConfig) (*MicroBatcher[In, Out], error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: batch function is nil", domain.ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &MicroBatcher[In, Out]{
		name:         cfg.Name,
		fn:           fn,
		logger:       log.OrNoop(cfg.Logger).With(log.String("batcher", cfg.Name)),
		metrics:      orNoopMetrics(cfg.Metrics),
		maxBatchSize: cfg.MaxBatchSize,
		flushTimeout: cfg.FlushTimeout,
		waitTimeout:  cfg.WaitTimeout,
		ledger:       newLedger[Out](),
	}, nil
}

// SubmitOne admits item into the pending batch and returns its result.
//
// If the admission fills the batch, the caller flushes it inline and gets
// the last result back. Otherwise an idle flush is scheduled (unless one
// already is) and the caller waits for its ticket, giving up after the wait
// timeout or when ctx is done; a caller that gives up withdraws its item if
// it has not been flushed yet.
func (b *MicroBatcher[In, Out]) SubmitOne(ctx context.Context, item In) (Out, error) {
	var zero Out

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return zero, domain.ErrClosed
	}
	b.compactLocked()

	entry := &pendingEntry[In, Out]{item: item, ticket: make(chan outcome[Out], 1)}
	b.pending = append(b.pending, entry)

	if len(b.pending) >= b.maxBatchSize {
		f := b.takeLocked()
		b.mu.Unlock()

		// The batch belongs to every caller in it, so this caller's
		// cancellation must not abort it.
		b.runFlush(context.WithoutCancel(ctx), f)
		o := <-entry.ticket
		return o.value, o.err
	}

	if !b.processing {
		b.scheduleLocked()
	}
	wait := b.waitBoundLocked()
	b.mu.Unlock()

	return b.await(ctx, entry, wait)
}

// SubmitBatch flushes exactly items, synchronously, without merging them
// with pending submissions.
func (b *MicroBatcher[In, Out]) SubmitBatch(ctx context.Context, items []In) ([]Out, error) {
	if len(items) == 0 {
		return nil, domain.NewUntaggedBatchError(domain.KindEmptyBatch, "cannot submit an empty batch", nil)
	}

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return nil, domain.ErrClosed
	}
	b.compactLocked()
	id := b.nextID
	b.nextID++
	capacity, timeout := b.maxBatchSize, b.flushTimeout
	b.mu.Unlock()

	results, err := b.process(ctx, id, timeout, items)
	b.observe(len(items), capacity)
	b.record(id, results, err)
	return results, err
}

// Shutdown stops admissions, flushes whatever is pending on a best-effort
// basis and clears the ledger. Waiting callers still receive their outcome.
// Calling Shutdown more than once is a no-op.
func (b *MicroBatcher[In, Out]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.draining {
		return
	}
	b.draining = true

	if f := b.takeLocked(); f != nil {
		results, err := b.process(context.Background(), f.id, f.timeout, f.items())
		b.observe(len(f.entries), f.capacity)
		if err != nil {
			b.logger.Warn("drain flush failed", log.Uint64("batch_id", f.id), log.Err(err))
		}
		resolve(f, results, err)
	}

	b.pending = nil
	b.ledger.reset()
	b.logger.Info("batcher shut down")
}

// Retune changes capacity and timeouts. A pending batch that already meets
// the new capacity is flushed right away.
func (b *MicroBatcher[In, Out]) Retune(maxBatchSize int, flushTimeout, waitTimeout time.Duration) error {
	cfg := BatcherConfig{MaxBatchSize: maxBatchSize, FlushTimeout: flushTimeout, WaitTimeout: waitTimeout}
	if err := cfg.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	b.maxBatchSize = maxBatchSize
	b.flushTimeout = flushTimeout
	b.waitTimeout = waitTimeout
	var f *flush[In, Out]
	if !b.draining && len(b.pending) >= maxBatchSize {
		f = b.takeLocked()
	}
	b.mu.Unlock()

	b.logger.Info("batcher retuned",
		log.Int("max_batch_size", maxBatchSize),
		log.Duration("flush_timeout", flushTimeout),
	)
	if f != nil {
		go b.runFlush(context.Background(), f)
	}
	return nil
}

// Pending returns the number of items waiting for a flush.
func (b *MicroBatcher[In, Out]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// FlushScheduled reports whether an idle flush is outstanding.
func (b *MicroBatcher[In, Out]) FlushScheduled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processing
}

// LedgerIDs returns the batch ids currently held in the ledger, ascending.
func (b *MicroBatcher[In, Out]) LedgerIDs() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.ids()
}

// Lookup returns the recorded outcome of a batch id.
func (b *MicroBatcher[In, Out]) Lookup(id uint64) (LedgerEntry[Out], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.lookup(id)
}

func (b *MicroBatcher[In, Out]) waitBoundLocked() time.Duration {
	if b.waitTimeout > 0 {
		return b.waitTimeout
	}
	return 2 * b.flushTimeout
}

func (b *MicroBatcher[In, Out]) compactLocked() {
	if n := b.ledger.compact(); n > 0 {
		b.logger.Debug("ledger compacted", log.Int("evicted", n), log.Int("resident", b.ledger.size()))
	}
}

func (b *MicroBatcher[In, Out]) scheduleLocked() {
	b.processing = true
	b.timerGen++
	gen := b.timerGen
	b.timer = time.AfterFunc(b.flushTimeout, func() { b.onTimer(gen) })
}

// cancelTimerLocked drops the outstanding idle flush. Bumping the
// generation also neutralises a timer that already fired and is waiting
// for the lock.
func (b *MicroBatcher[In, Out]) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.processing = false
	b.timerGen++
}

// takeLocked removes the pending batch and assigns it an id. It returns nil
// when nothing is pending.
func (b *MicroBatcher[In, Out]) takeLocked() *flush[In, Out] {
	b.cancelTimerLocked()
	if len(b.pending) == 0 {
		return nil
	}
	b.compactLocked()

	f := &flush[In, Out]{
		id:       b.nextID,
		entries:  b.pending,
		capacity: b.maxBatchSize,
		timeout:  b.flushTimeout,
	}
	b.nextID++
	b.pending = nil
	return f
}

func (b *MicroBatcher[In, Out]) onTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.timerGen || !b.processing {
		b.mu.Unlock()
		return
	}
	f := b.takeLocked()
	b.mu.Unlock()

	if f == nil {
		return
	}
	b.runFlush(context.Background(), f)
}

func (b *MicroBatcher[In, Out]) runFlush(ctx context.Context, f *flush[In, Out]) {
	start := time.Now()
	results, err := b.process(ctx, f.id, f.timeout, f.items())
	b.observe(len(f.entries), f.capacity)
	b.record(f.id, results, err)
	resolve(f, results, err)

	if err != nil {
		b.logger.Warn("flush failed",
			log.Uint64("batch_id", f.id),
			log.Int("size", len(f.entries)),
			log.Err(err),
		)
		return
	}
	b.logger.Debug("flushed batch",
		log.Uint64("batch_id", f.id),
		log.Int("size", len(f.entries)),
		log.Duration("duration", time.Since(start)),
	)
}

// process calls the batch function under timeout and validates its output.
// Every failure comes back as a *domain.BatchError tagged with id.
func (b *MicroBatcher[In, Out]) process(ctx context.Context, id uint64, timeout time.Duration, items []In) ([]Out, error) {
	results, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (res []Out, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("batch function panicked: %v", r)
			}
		}()
		return b.fn(ctx, items)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAttemptTimeout) {
			return nil, domain.NewBatchError(domain.KindTimeout, id, fmt.Sprintf("timed out after %s", timeout), err)
		}
		return nil, domain.AsBatchError(err, id)
	}
	if results == nil {
		return nil, domain.NewBatchError(domain.KindInvalidResult, id, "batch function returned no results", nil)
	}
	if len(results) != len(items) {
		return nil, domain.NewBatchError(domain.KindCountMismatch, id,
			fmt.Sprintf("expected %d results, got %d", len(items), len(results)), nil)
	}
	return results, nil
}

func (b *MicroBatcher[In, Out]) record(id uint64, results []Out, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return
	}
	if err != nil {
		b.ledger.recordError(id, err)
		return
	}
	b.ledger.recordResults(id, results)
}

func (b *MicroBatcher[In, Out]) observe(size, capacity int) {
	b.metrics.ObserveBatchSize(b.name, size)
	if capacity > 0 {
		b.metrics.ObserveBatchUtilization(b.name, float64(size)/float64(capacity))
	}
}

func (b *MicroBatcher[In, Out]) await(ctx context.Context, e *pendingEntry[In, Out], wait time.Duration) (Out, error) {
	var zero Out
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case o := <-e.ticket:
		return o.value, o.err
	case <-ctx.Done():
		if o, ok := b.abandon(e); ok {
			return o.value, o.err
		}
		return zero, ctx.Err()
	case <-timer.C:
		if o, ok := b.abandon(e); ok {
			return o.value, o.err
		}
		return zero, domain.NewUntaggedBatchError(domain.KindTimeout, fmt.Sprintf("no result within %s", wait), nil)
	}
}

// abandon withdraws e from pending. It is a no-op when a flush already took
// the entry; if that flush has delivered meanwhile, its outcome is returned.
func (b *MicroBatcher[In, Out]) abandon(e *pendingEntry[In, Out]) (outcome[Out], bool) {
	b.mu.Lock()
	for i, p := range b.pending {
		if p == e {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	select {
	case o := <-e.ticket:
		return o, true
	default:
		return outcome[Out]{}, false
	}
}

// resolve fulfils every ticket of f, positionally.
func resolve[In, Out any](f *flush[In, Out], results []Out, err error) {
	for i, e := range f.entries {
		if err != nil {
			e.ticket <- outcome[Out]{err: err}
			continue
		}
		e.ticket <- outcome[Out]{value: results[i]}
	}
}
