package ports

import (
	"context"
	"time"
)

// Cache is a keyed store with per-entry time-to-live. Call sites consult it
// before invoking the engine; the engine itself never does.
type Cache interface {
	// Get returns the stored value and true, or false when the key is
	// missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A non-positive ttl uses the
	// implementation's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
