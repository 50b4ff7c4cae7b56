package metrics

import "github.com/bft-labs/fallbatch/internal/ports"

// Noop discards all measurements.
type Noop struct{}

func (Noop) ObserveBatchSize(string, int)                            {}
func (Noop) ObserveBatchUtilization(string, float64)                 {}
func (Noop) IncFallback(string)                                      {}
func (Noop) RecordOutcome(string, ports.Operation, ports.Tier, bool) {}

var _ ports.Metrics = Noop{}
