// Package server exposes an Engine over HTTP as a batching proxy in front
// of a primary and a secondary JSON backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/fallbatch/internal/ports"
	"github.com/bft-labs/fallbatch/pkg/engine"
	"github.com/bft-labs/fallbatch/pkg/log"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 60 * time.Second
)

// Engine is the part of *engine.Engine the server drives.
type Engine interface {
	Submit(ctx context.Context, item json.RawMessage) (json.RawMessage, error)
	Execute(ctx context.Context, req json.RawMessage) (json.RawMessage, error)
	ExecuteBatch(ctx context.Context, reqs []json.RawMessage) ([]engine.Result[json.RawMessage], error)
	Status() engine.State
	Pending() int
}

// Config configures a Server.
type Config struct {
	Addr string

	// Cache, when set, answers /v1/items before the engine is consulted.
	Cache    ports.Cache
	CacheTTL time.Duration

	// Registry receives the HTTP collectors and is served on /metrics.
	// Default: a fresh registry.
	Registry *prometheus.Registry

	Logger log.Logger
}

// Server wraps the chi router and its dependencies.
type Server struct {
	router   *chi.Mux
	engine   Engine
	cache    ports.Cache
	cacheTTL time.Duration
	logger   log.Logger
	addr     string
}

// New creates and configures a Server.
func New(eng Engine, cfg Config) (*Server, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rm, err := newRequestMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		engine:   eng,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   log.OrNoop(cfg.Logger),
		addr:     cfg.Addr,
	}

	s.router.Use(requestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(rm.middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/items", s.handleSubmitItem)
		r.Post("/batches", s.handleExecuteBatch)
		r.Post("/execute", s.handleExecute)
	})
	return s, nil
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", log.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Duration("duration", time.Since(start)),
			log.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
