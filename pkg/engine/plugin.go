package engine

import (
	"context"

	"github.com/bft-labs/fallbatch/pkg/log"
)

// Plugin extends an Engine with background behavior, such as watching a
// config file and retuning the engine.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called by Start. ctx is cancelled when the engine stops.
	// A returned error aborts Start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called by Stop.
	Shutdown(ctx context.Context) error
}

// Tuner applies new tuning to a running engine.
type Tuner interface {
	Retune(t Tuning) error
	Tuning() Tuning
}

// PluginConfig is handed to plugins on Initialize.
type PluginConfig struct {
	Name   string
	Logger log.Logger
	Tuner  Tuner
}
