package engine

import (
	"time"

	"github.com/bft-labs/fallbatch/internal/app"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// Option configures optional behavior of an Engine.
type Option func(*options)

type options struct {
	logger       log.Logger
	metrics      Metrics
	plugins      []Plugin
	stateHandler StateHandler
	stopTimeout  time.Duration
	emptyResult  func(any) bool
}

func defaultOptions() options {
	return options{
		logger:      log.NoopLogger{},
		stopTimeout: app.DefaultStopTimeout,
	}
}

// WithLogger sets the structured logger. Default: no output.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink. Default: discard.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPlugin registers a plugin. Plugins are initialized in registration
// order on Start and shut down in reverse order on Stop.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, p)
	}
}

// WithStateHandler is called synchronously after every lifecycle transition.
func WithStateHandler(h StateHandler) Option {
	return func(o *options) {
		o.stateHandler = h
	}
}

// WithStopTimeout bounds how long Stop waits for the final drain.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithEmptyResult overrides what counts as "no result" from a backend.
func WithEmptyResult(fn func(v any) bool) Option {
	return func(o *options) {
		o.emptyResult = fn
	}
}

// StateHandler observes lifecycle transitions.
type StateHandler func(previous, current State, reason string)

func (h StateHandler) OnStateChange(previous, current State, reason string) {
	h(previous, current, reason)
}
