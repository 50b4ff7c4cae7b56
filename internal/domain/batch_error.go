package domain

import (
	"errors"
	"fmt"
)

// BatchErrorKind classifies a micro-batcher failure.
type BatchErrorKind int

const (
	KindDownstream BatchErrorKind = iota
	KindEmptyBatch
	KindTimeout
	KindCountMismatch
	KindInvalidResult
)

// String returns a short name for the kind.
func (k BatchErrorKind) String() string {
	switch k {
	case KindEmptyBatch:
		return "empty-batch"
	case KindTimeout:
		return "timed-out"
	case KindCountMismatch:
		return "result-count-mismatch"
	case KindInvalidResult:
		return "invalid-result"
	default:
		return "downstream"
	}
}

func (k BatchErrorKind) sentinel() error {
	switch k {
	case KindEmptyBatch:
		return ErrEmptyBatch
	case KindTimeout:
		return ErrBatchTimeout
	case KindCountMismatch:
		return ErrResultCountMismatch
	case KindInvalidResult:
		return ErrInvalidResult
	default:
		return ErrDownstream
	}
}

// BatchError reports a failed flush. BatchID is only meaningful when
// HasBatchID is set; failures detected before an id is assigned (an empty
// submission, a caller giving up while still pending) carry none.
type BatchError struct {
	Kind       BatchErrorKind
	BatchID    uint64
	HasBatchID bool
	Msg        string
	Err        error
}

// NewBatchError builds a BatchError tagged with a batch id.
func NewBatchError(kind BatchErrorKind, batchID uint64, msg string, cause error) *BatchError {
	return &BatchError{Kind: kind, BatchID: batchID, HasBatchID: true, Msg: msg, Err: cause}
}

// NewUntaggedBatchError builds a BatchError that has no batch id.
func NewUntaggedBatchError(kind BatchErrorKind, msg string, cause error) *BatchError {
	return &BatchError{Kind: kind, Msg: msg, Err: cause}
}

func (e *BatchError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.HasBatchID {
		msg = fmt.Sprintf("batch %d: %s", e.BatchID, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the kind.
func (e *BatchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// AsBatchError converts err into a *BatchError for batchID. An existing
// BatchError keeps its kind and gains the id if it had none; anything else
// becomes a downstream failure.
func AsBatchError(err error, batchID uint64) *BatchError {
	var be *BatchError
	if errors.As(err, &be) {
		if !be.HasBatchID {
			cp := *be
			cp.BatchID = batchID
			cp.HasBatchID = true
			return &cp
		}
		return be
	}
	return NewBatchError(KindDownstream, batchID, "batch function failed", err)
}
