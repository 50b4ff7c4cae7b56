package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// expiryGetter is implemented by tiers that can report an entry's expiry.
type expiryGetter interface {
	GetWithExpiry(ctx context.Context, key string) ([]byte, time.Time, bool, error)
}

// Tiered reads through a hot tier into a cold tier and promotes cold hits.
// Writes go to both tiers in parallel.
type Tiered struct {
	hot    ports.Cache
	cold   ports.Cache
	logger log.Logger
	now    func() time.Time
}

// NewTiered combines hot (usually Memory) and cold (usually SQLiteStore).
func NewTiered(hot, cold ports.Cache, logger log.Logger) *Tiered {
	return &Tiered{hot: hot, cold: cold, logger: log.OrNoop(logger), now: time.Now}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.hot.Get(ctx, key); err == nil && ok {
		return v, true, nil
	} else if err != nil {
		t.logger.Warn("hot cache read failed", log.String("key", key), log.Err(err))
	}

	v, ttl, ok, err := t.getCold(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if ttl < 0 {
		return v, true, nil
	}
	if err := t.hot.Set(ctx, key, v, ttl); err != nil {
		t.logger.Warn("cache promotion failed", log.String("key", key), log.Err(err))
	}
	return v, true, nil
}

// getCold returns the cold value and the ttl to promote it with: the
// remaining cold lifetime when known, 0 (the hot default) otherwise, and a
// negative ttl when the entry is about to expire and must not be promoted.
func (t *Tiered) getCold(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	eg, ok := t.cold.(expiryGetter)
	if !ok {
		v, ok, err := t.cold.Get(ctx, key)
		return v, 0, ok, err
	}
	v, expires, ok, err := eg.GetWithExpiry(ctx, key)
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	remaining := expires.Sub(t.now())
	if remaining <= 0 {
		return v, -1, true, nil
	}
	return v, remaining, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.hot.Set(ctx, key, value, ttl) })
	g.Go(func() error { return t.cold.Set(ctx, key, value, ttl) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("tiered set: %w", err)
	}
	return nil
}

var _ ports.Cache = (*Tiered)(nil)
