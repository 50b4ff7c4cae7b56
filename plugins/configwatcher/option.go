package configwatcher

import "github.com/bft-labs/fallbatch/pkg/engine"

// WithConfigWatcher returns an engine Option that retunes the engine when
// the config file changes.
//
// Usage:
//
//	e, err := engine.New(primary, secondary, cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig(path)),
//	)
func WithConfigWatcher(cfg Config) engine.Option {
	return engine.WithPlugin(New(cfg))
}
