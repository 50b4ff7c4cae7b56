package domain

import "errors"

// Errors surfaced by the micro-batcher. A *BatchError matches the sentinel of
// its kind via errors.Is.
var (
	ErrEmptyBatch          = errors.New("fallbatch: empty batch")
	ErrBatchTimeout        = errors.New("fallbatch: batch timed out")
	ErrResultCountMismatch = errors.New("fallbatch: result count mismatch")
	ErrInvalidResult       = errors.New("fallbatch: invalid batch result")
	ErrDownstream          = errors.New("fallbatch: batch function failed")
)

// Errors surfaced by the fallback executor and backends.
var (
	// ErrBothSystemsFailed wraps the secondary's terminal failure after the
	// primary was exhausted.
	ErrBothSystemsFailed = errors.New("fallbatch: both systems failed")

	// ErrEmptyResult marks a backend call that succeeded with a nil or empty value.
	ErrEmptyResult = errors.New("fallbatch: empty result")

	// ErrAttemptTimeout marks a backend call that exceeded its per-attempt timeout.
	ErrAttemptTimeout = errors.New("fallbatch: attempt timed out")

	// ErrTransport marks a backend call that never produced a response.
	ErrTransport = errors.New("fallbatch: transport failure")

	// ErrStatus marks a backend response with a non-success status.
	ErrStatus = errors.New("fallbatch: backend returned error status")
)

// Lifecycle and configuration errors.
var (
	ErrClosed         = errors.New("fallbatch: closed")
	ErrAlreadyRunning = errors.New("fallbatch: already running")
	ErrNotRunning     = errors.New("fallbatch: not running")
	ErrInvalidConfig  = errors.New("fallbatch: invalid configuration")

	// ErrShutdownTimeout is returned when background work outlives the stop deadline.
	ErrShutdownTimeout = errors.New("fallbatch: shutdown timed out")
)
