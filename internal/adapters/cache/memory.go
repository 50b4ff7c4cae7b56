// Package cache provides ports.Cache tiers: an in-process map, a SQLite
// store and a two-tier combination of both.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bft-labs/fallbatch/internal/ports"
)

// DefaultTTL applies when Set is called with a non-positive ttl and the
// store was created without its own default.
const DefaultTTL = 5 * time.Minute

// Key derives a fixed-length cache key from a namespace and a payload.
func Key(namespace string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write(payload)
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process cache. Expired entries are dropped lazily on Get
// and in bulk by Purge.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a memory cache whose default ttl is ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, _, ok, err := m.GetWithExpiry(ctx, key)
	return v, ok, err
}

// GetWithExpiry is Get that also reports when the entry expires.
func (m *Memory) GetWithExpiry(_ context.Context, key string) ([]byte, time.Time, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, time.Time{}, false, nil
	}
	return append([]byte(nil), e.value...), e.expires, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	buf := append([]byte(nil), value...)
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: buf, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Purge removes every expired entry and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of resident entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var (
	_ ports.Cache  = (*Memory)(nil)
	_ expiryGetter = (*Memory)(nil)
)
