package engine

import (
	"github.com/bft-labs/fallbatch/internal/app"
	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
)

type (
	// Backend is the capability every primary and secondary exposes.
	Backend[In, Out any] = ports.Backend[In, Out]

	// Result is one slot of a batch execution.
	Result[T any] = domain.Result[T]

	// Metrics receives engine measurements.
	Metrics = ports.Metrics

	// BatchError is the typed micro-batcher failure.
	BatchError = domain.BatchError

	// State is the engine lifecycle state.
	State = app.State
)

const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)

// Errors returned by the engine. Use errors.Is.
var (
	ErrEmptyBatch          = domain.ErrEmptyBatch
	ErrBatchTimeout        = domain.ErrBatchTimeout
	ErrResultCountMismatch = domain.ErrResultCountMismatch
	ErrInvalidResult       = domain.ErrInvalidResult
	ErrDownstream          = domain.ErrDownstream
	ErrBothSystemsFailed   = domain.ErrBothSystemsFailed
	ErrEmptyResult         = domain.ErrEmptyResult
	ErrAttemptTimeout      = domain.ErrAttemptTimeout
	ErrClosed              = domain.ErrClosed
	ErrAlreadyRunning      = domain.ErrAlreadyRunning
	ErrNotRunning          = domain.ErrNotRunning
	ErrInvalidConfig       = domain.ErrInvalidConfig
	ErrShutdownTimeout     = domain.ErrShutdownTimeout
)
