package ports

// Operation labels a fallback outcome.
type Operation string

const (
	OpSingle Operation = "single"
	OpBatch  Operation = "batch"
)

// Tier labels which backend produced an outcome.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// Metrics receives engine measurements. Implementations must not block and
// must not fail the caller.
type Metrics interface {
	// ObserveBatchSize records the number of items in a flushed batch.
	ObserveBatchSize(name string, size int)

	// ObserveBatchUtilization records size/capacity for a flushed batch.
	ObserveBatchUtilization(name string, ratio float64)

	// IncFallback counts one demotion to the secondary backend.
	IncFallback(name string)

	// RecordOutcome counts a success or failure of a fallback operation.
	RecordOutcome(name string, op Operation, tier Tier, success bool)
}
