package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/fallbatch/internal/adapters/metrics"
	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/internal/server"
	"github.com/bft-labs/fallbatch/pkg/engine"
	"github.com/bft-labs/fallbatch/pkg/log"
	"github.com/bft-labs/fallbatch/plugins/configwatcher"
)

const minSweepInterval = time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the batching proxy over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgFile, load, err := c.resolve(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			logger.Info("configuration", log.Any("config", cfg.Masked()))

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			sink, err := metrics.NewPrometheus(reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			sink.Init(cfg.Name)

			opts := []engine.Option{engine.WithMetrics(sink)}
			if cfgFile != "" {
				opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.Config{
					Path: cfgFile,
					Load: load,
				}))
			}
			eng, err := newEngine(cfg, logger, opts...)
			if err != nil {
				return err
			}

			rc, err := newResultCache(cfg, logger)
			if err != nil {
				return err
			}
			var results ports.Cache
			if rc != nil {
				defer rc.Close()
				results = rc
			}

			srv, err := server.New(eng, server.Config{
				Addr:     cfg.ListenAddr,
				Cache:    results,
				CacheTTL: cfg.CacheTTL,
				Registry: reg,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			if rc != nil {
				g.Go(func() error { return rc.sweep(gctx, max(cfg.CacheTTL, minSweepInterval)) })
			}

			runErr := g.Wait()
			logger.Info("stopping")
			if err := eng.Stop(); err != nil {
				logger.Error("stop engine", log.Err(err))
				if runErr == nil {
					runErr = err
				}
			}
			return runErr
		},
	}
}
