// Package ports defines the interfaces that connect the batching and
// fallback core to its collaborators.
//
// # Port Interfaces
//
//   - [Backend]: a primary or secondary execution backend
//   - [Metrics]: fire-and-forget metrics sink
//   - [Cache]: TTL keyed store used by call sites around the engine
//   - [HTTPClient]: HTTP request abstraction for the HTTP backend adapter
//
// The core (internal/app) depends only on these interfaces. Adapters in
// internal/adapters provide the concrete implementations.
package ports
