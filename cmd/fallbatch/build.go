package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bft-labs/fallbatch/internal/adapters/cache"
	httpbackend "github.com/bft-labs/fallbatch/internal/adapters/http"
	"github.com/bft-labs/fallbatch/internal/config"
	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/engine"
	"github.com/bft-labs/fallbatch/pkg/log"
)

type jsonEngine = engine.Engine[json.RawMessage, json.RawMessage]

// newEngine wires the HTTP backends named in cfg into an engine.
func newEngine(cfg config.Config, logger log.Logger, opts ...engine.Option) (*jsonEngine, error) {
	if err := cfg.RequireBackends(); err != nil {
		return nil, err
	}
	handled, err := config.ResolveHandledErrors(cfg.HandledErrors)
	if err != nil {
		return nil, err
	}

	primary, err := httpbackend.NewBackend[json.RawMessage, json.RawMessage](httpbackend.Config{
		BaseURL:   cfg.PrimaryURL,
		AuthToken: cfg.AuthToken,
		Logger:    logger.With(log.String("tier", "primary")),
	})
	if err != nil {
		return nil, fmt.Errorf("primary backend: %w", err)
	}
	secondary, err := httpbackend.NewBackend[json.RawMessage, json.RawMessage](httpbackend.Config{
		BaseURL:   cfg.SecondaryURL,
		AuthToken: cfg.AuthToken,
		Logger:    logger.With(log.String("tier", "secondary")),
	})
	if err != nil {
		return nil, fmt.Errorf("secondary backend: %w", err)
	}

	opts = append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithEmptyResult(engine.IsEmptyJSON),
		engine.WithStateHandler(func(prev, cur engine.State, reason string) {
			logger.Debug("engine state changed",
				log.String("from", prev.String()),
				log.String("to", cur.String()),
				log.String("reason", reason),
			)
		}),
	}, opts...)

	return engine.New[json.RawMessage, json.RawMessage](primary, secondary, engine.Config{
		Name:            cfg.Name,
		MaxBatchSize:    cfg.MaxBatchSize,
		FlushTimeout:    cfg.FlushTimeout,
		WaitTimeout:     cfg.WaitTimeout,
		MaxRetries:      cfg.MaxRetries,
		Timeout:         cfg.AttemptTimeout,
		HandledErrors:   handled,
		RetryBackoff:    cfg.RetryBackoff,
		RetryBackoffMax: cfg.RetryBackoffMax,
	}, opts...)
}

// resultCache is the cache the server consults, plus the expiry sweep and
// cleanup for its tiers.
type resultCache struct {
	ports.Cache
	memory *cache.Memory
	sqlite *cache.SQLiteStore
	logger log.Logger
}

// newResultCache returns nil when caching is disabled.
func newResultCache(cfg config.Config, logger log.Logger) (*resultCache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}
	rc := &resultCache{memory: cache.NewMemory(cfg.CacheTTL), logger: logger}
	rc.Cache = rc.memory
	if cfg.CacheDBPath != "" {
		store, err := cache.NewSQLiteStore(cfg.CacheDBPath, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("open cache db: %w", err)
		}
		rc.sqlite = store
		rc.Cache = cache.NewTiered(rc.memory, store, logger)
	}
	return rc, nil
}

// sweep drops expired entries every interval until ctx is done.
func (rc *resultCache) sweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n := int64(rc.memory.Purge())
			if rc.sqlite != nil {
				m, err := rc.sqlite.Purge(ctx)
				if err != nil {
					rc.logger.Warn("cache purge failed", log.Err(err))
				}
				n += m
			}
			if n > 0 {
				rc.logger.Debug("cache purged", log.Int("entries", int(n)))
			}
		}
	}
}

func (rc *resultCache) Close() error {
	if rc.sqlite != nil {
		return rc.sqlite.Close()
	}
	return nil
}
