package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/fallbatch/internal/ports"
)

type outcomeRecord struct {
	op      ports.Operation
	tier    ports.Tier
	success bool
}

// recordingMetrics captures every measurement for assertions.
type recordingMetrics struct {
	mu          sync.Mutex
	sizes       []int
	utilization []float64
	fallbacks   int
	outcomes    []outcomeRecord
}

func (m *recordingMetrics) ObserveBatchSize(_ string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *recordingMetrics) ObserveBatchUtilization(_ string, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilization = append(m.utilization, ratio)
}

func (m *recordingMetrics) IncFallback(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *recordingMetrics) RecordOutcome(_ string, op ports.Operation, tier ports.Tier, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcomeRecord{op, tier, success})
}

func (m *recordingMetrics) fallbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbacks
}

func (m *recordingMetrics) recorded() []outcomeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outcomeRecord(nil), m.outcomes...)
}

// fakeBackend is a scripted ports.Backend[string, string].
type fakeBackend struct {
	one   func(ctx context.Context, req string) (string, error)
	batch func(ctx context.Context, reqs []string) ([]string, error)

	oneCalls   atomic.Int32
	batchCalls atomic.Int32
}

func (f *fakeBackend) ProcessOne(ctx context.Context, req string) (string, error) {
	f.oneCalls.Add(1)
	return f.one(ctx, req)
}

func (f *fakeBackend) ProcessBatch(ctx context.Context, reqs []string) ([]string, error) {
	f.batchCalls.Add(1)
	if f.batch == nil {
		return nil, errNoBatch
	}
	return f.batch(ctx, reqs)
}

var _ ports.Backend[string, string] = (*fakeBackend)(nil)
