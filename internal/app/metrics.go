package app

import "github.com/bft-labs/fallbatch/internal/ports"

// noopMetrics discards all measurements.
type noopMetrics struct{}

func (noopMetrics) ObserveBatchSize(string, int)                            {}
func (noopMetrics) ObserveBatchUtilization(string, float64)                 {}
func (noopMetrics) IncFallback(string)                                      {}
func (noopMetrics) RecordOutcome(string, ports.Operation, ports.Tier, bool) {}

func orNoopMetrics(m ports.Metrics) ports.Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
