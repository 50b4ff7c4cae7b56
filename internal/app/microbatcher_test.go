package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fallbatch/internal/domain"
)

// echoBatch records every invocation and answers "r:<item>" positionally.
type echoBatch struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (e *echoBatch) fn(_ context.Context, items []string) ([]string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), items...))
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = "r:" + it
	}
	return out, nil
}

func (e *echoBatch) invocations() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

func newTestBatcher(t *testing.T, fn func(context.Context, []string) ([]string, error), size int, flush time.Duration) *MicroBatcher[string, string] {
	t.Helper()
	b, err := NewMicroBatcher[string, string](fn, BatcherConfig{
		Name:         "test",
		MaxBatchSize: size,
		FlushTimeout: flush,
	})
	require.NoError(t, err)
	t.Cleanup(b.Shutdown)
	return b
}

type submitResult struct {
	value string
	err   error
}

// submitAsync starts SubmitOne on a goroutine and waits until the item is
// admitted, so submission order is deterministic.
func submitAsync(t *testing.T, b *MicroBatcher[string, string], item string) <-chan submitResult {
	t.Helper()
	before := b.Pending()
	ch := make(chan submitResult, 1)
	go func() {
		v, err := b.SubmitOne(context.Background(), item)
		ch <- submitResult{v, err}
	}()
	require.Eventually(t, func() bool { return b.Pending() == before+1 }, time.Second, time.Millisecond)
	return ch
}

func TestNewMicroBatcher_InvalidConfig(t *testing.T) {
	fn := (&echoBatch{}).fn
	tests := []struct {
		name string
		cfg  BatcherConfig
	}{
		{"zero size", BatcherConfig{MaxBatchSize: 0, FlushTimeout: time.Second}},
		{"zero flush timeout", BatcherConfig{MaxBatchSize: 1}},
		{"negative wait", BatcherConfig{MaxBatchSize: 1, FlushTimeout: time.Second, WaitTimeout: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMicroBatcher[string, string](fn, tt.cfg)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}

	_, err := NewMicroBatcher[string, string](nil, BatcherConfig{MaxBatchSize: 1, FlushTimeout: time.Second})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMicroBatcher_SequentialSubmissionsArePositional(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 5, 200*time.Millisecond)

	items := []string{"a", "b", "c", "d"}
	chans := make([]<-chan submitResult, len(items))
	for i, it := range items {
		chans[i] = submitAsync(t, b, it)
	}

	for i, ch := range chans {
		select {
		case r := <-ch:
			require.NoError(t, r.err)
			assert.Equal(t, "r:"+items[i], r.value)
		case <-time.After(time.Second):
			t.Fatalf("caller %d never received a result", i)
		}
	}
	assert.Equal(t, [][]string{items}, eb.invocations())
}

func TestMicroBatcher_ExactCapacityFlushesOnce(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 3, time.Hour)

	first := submitAsync(t, b, "one")
	second := submitAsync(t, b, "two")
	require.True(t, b.FlushScheduled())

	v, err := b.SubmitOne(context.Background(), "three")
	require.NoError(t, err)
	assert.Equal(t, "r:three", v)

	assert.Equal(t, "r:one", (<-first).value)
	assert.Equal(t, "r:two", (<-second).value)

	assert.Equal(t, [][]string{{"one", "two", "three"}}, eb.invocations())
	assert.False(t, b.FlushScheduled(), "no flush task may remain after a capacity flush")
	assert.Zero(t, b.Pending())
}

func TestMicroBatcher_TwoItemScenario(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 2, 50*time.Millisecond)

	x := submitAsync(t, b, "x")
	y, err := b.SubmitOne(context.Background(), "y")
	yDone := time.Now()
	require.NoError(t, err)

	var rx submitResult
	select {
	case rx = <-x:
	case <-time.After(20 * time.Millisecond):
		t.Fatal("x was not released by the capacity flush")
	}
	assert.WithinDuration(t, yDone, time.Now(), 20*time.Millisecond)
	require.NoError(t, rx.err)
	assert.Equal(t, "r:x", rx.value)
	assert.Equal(t, "r:y", y)
	assert.Equal(t, [][]string{{"x", "y"}}, eb.invocations())
}

func TestMicroBatcher_IdleFlushClearsSchedulingOnError(t *testing.T) {
	boom := errors.New("boom")
	eb := &echoBatch{err: boom}
	b := newTestBatcher(t, eb.fn, 10, 20*time.Millisecond)

	start := time.Now()
	_, err := b.SubmitOne(context.Background(), "lonely")
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	var be *domain.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, domain.KindDownstream, be.Kind)
	assert.True(t, be.HasBatchID)
	assert.Equal(t, uint64(0), be.BatchID)
	assert.ErrorIs(t, err, domain.ErrDownstream)
	assert.ErrorIs(t, err, boom)

	assert.False(t, b.FlushScheduled())
	assert.Len(t, eb.invocations(), 1)

	entry, ok := b.Lookup(0)
	require.True(t, ok)
	assert.Nil(t, entry.Results)
	assert.ErrorIs(t, entry.Err, boom)
}

func TestMicroBatcher_LedgerCompaction(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 10, time.Hour)

	for i := 0; i <= ledgerHighWater; i++ {
		_, err := b.SubmitBatch(context.Background(), []string{fmt.Sprint(i)})
		require.NoError(t, err)
	}
	require.Len(t, b.LedgerIDs(), ledgerHighWater+1)

	// The admission compacts even though the caller gives up at once.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.SubmitOne(ctx, "late")
	require.ErrorIs(t, err, context.Canceled)

	ids := b.LedgerIDs()
	require.Len(t, ids, ledgerRetain)
	assert.Equal(t, uint64(ledgerHighWater+1-ledgerRetain), ids[0])
	assert.Equal(t, uint64(ledgerHighWater), ids[len(ids)-1])
	_, ok := b.Lookup(0)
	assert.False(t, ok)
	assert.Zero(t, b.Pending(), "abandoned entry must be withdrawn")
}

func TestMicroBatcher_DuplicateConcurrentSubmissions(t *testing.T) {
	var seq atomic.Int32
	fn := func(_ context.Context, items []string) ([]string, error) {
		base := seq.Add(int32(len(items))) - int32(len(items))
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = fmt.Sprintf("%s-%d", it, int(base)+i)
		}
		return out, nil
	}
	b := newTestBatcher(t, fn, 4, time.Second)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.SubmitOne(context.Background(), "same")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	sort.Strings(results)
	assert.Equal(t, []string{"same-0", "same-1", "same-2", "same-3"}, results)
}

func TestMicroBatcher_SubmitBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(context.Context, []string) ([]string, error)
		items    []string
		sentinel error
		kind     domain.BatchErrorKind
		tagged   bool
	}{
		{
			name:     "empty batch",
			fn:       (&echoBatch{}).fn,
			items:    nil,
			sentinel: domain.ErrEmptyBatch,
			kind:     domain.KindEmptyBatch,
		},
		{
			name: "count mismatch",
			fn: func(context.Context, []string) ([]string, error) {
				return []string{"only"}, nil
			},
			items:    []string{"a", "b"},
			sentinel: domain.ErrResultCountMismatch,
			kind:     domain.KindCountMismatch,
			tagged:   true,
		},
		{
			name: "nil result",
			fn: func(context.Context, []string) ([]string, error) {
				return nil, nil
			},
			items:    []string{"a"},
			sentinel: domain.ErrInvalidResult,
			kind:     domain.KindInvalidResult,
			tagged:   true,
		},
		{
			name: "timeout",
			fn: func(ctx context.Context, _ []string) ([]string, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			items:    []string{"a"},
			sentinel: domain.ErrBatchTimeout,
			kind:     domain.KindTimeout,
			tagged:   true,
		},
		{
			name: "panic",
			fn: func(context.Context, []string) ([]string, error) {
				panic("kaboom")
			},
			items:    []string{"a"},
			sentinel: domain.ErrDownstream,
			kind:     domain.KindDownstream,
			tagged:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBatcher(t, tt.fn, 4, 20*time.Millisecond)

			res, err := b.SubmitBatch(context.Background(), tt.items)
			assert.Nil(t, res)
			require.ErrorIs(t, err, tt.sentinel)

			var be *domain.BatchError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.tagged, be.HasBatchID)
		})
	}
}

func TestMicroBatcher_SubmitBatchDoesNotMerge(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 10, time.Hour)

	pending := submitAsync(t, b, "waiting")

	res, err := b.SubmitBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r:a", "r:b"}, res)
	assert.Equal(t, 1, b.Pending())

	entry, ok := b.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, []string{"r:a", "r:b"}, entry.Results)

	b.Shutdown()
	assert.Equal(t, "r:waiting", (<-pending).value)
}

func TestMicroBatcher_StaleTimerIsIgnored(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 10, time.Hour)

	done := submitAsync(t, b, "a")

	b.mu.Lock()
	gen := b.timerGen
	b.mu.Unlock()

	b.onTimer(gen - 1)
	assert.Equal(t, 1, b.Pending())
	assert.Empty(t, eb.invocations())

	b.onTimer(gen)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "r:a", r.value)
	assert.False(t, b.FlushScheduled())
}

func TestMicroBatcher_WaitTimeoutWithdrawsItem(t *testing.T) {
	b, err := NewMicroBatcher[string, string](func(ctx context.Context, items []string) ([]string, error) {
		return items, nil
	}, BatcherConfig{MaxBatchSize: 10, FlushTimeout: time.Hour, WaitTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer b.Shutdown()

	_, err = b.SubmitOne(context.Background(), "a")
	require.ErrorIs(t, err, domain.ErrBatchTimeout)
	assert.Zero(t, b.Pending())
}

func TestMicroBatcher_ShutdownDrains(t *testing.T) {
	eb := &echoBatch{}
	m := &recordingMetrics{}
	b, err := NewMicroBatcher[string, string](eb.fn, BatcherConfig{
		MaxBatchSize: 10,
		FlushTimeout: time.Hour,
		Metrics:      m,
	})
	require.NoError(t, err)

	_, err = b.SubmitBatch(context.Background(), []string{"warm"})
	require.NoError(t, err)

	a := submitAsync(t, b, "a")
	c := submitAsync(t, b, "c")

	b.Shutdown()
	b.Shutdown()

	assert.Equal(t, "r:a", (<-a).value)
	assert.Equal(t, "r:c", (<-c).value)
	assert.Empty(t, b.LedgerIDs())
	assert.Zero(t, b.Pending())
	assert.False(t, b.FlushScheduled())

	_, err = b.SubmitOne(context.Background(), "after")
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = b.SubmitBatch(context.Background(), []string{"after"})
	assert.ErrorIs(t, err, domain.ErrClosed)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []int{1, 2}, m.sizes)
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, m.utilization, 1e-9)
}

func TestMicroBatcher_RetuneFlushesFullBatch(t *testing.T) {
	eb := &echoBatch{}
	b := newTestBatcher(t, eb.fn, 10, time.Hour)

	a := submitAsync(t, b, "a")
	c := submitAsync(t, b, "c")

	require.ErrorIs(t, b.Retune(0, time.Second, 0), domain.ErrInvalidConfig)
	require.NoError(t, b.Retune(2, time.Second, 0))

	assert.Equal(t, "r:a", (<-a).value)
	assert.Equal(t, "r:c", (<-c).value)
	assert.Equal(t, [][]string{{"a", "c"}}, eb.invocations())
}
