// Package domain contains the core value types and errors shared by the
// batching and fallback components.
//
// It has no dependencies on infrastructure (HTTP, storage, logging,
// metrics) and only describes outcomes:
//
//   - [BatchError]: a failed flush, tagged with its kind and batch id
//   - [Result]: one slot of a partially successful batch execution
//   - sentinel errors usable with errors.Is
package domain
