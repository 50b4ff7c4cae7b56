// Package configwatcher retunes a running engine when its config file
// changes. Only the live-tunable settings (batch size, flush and wait
// timeouts, retries, attempt timeout) are applied; everything else needs a
// restart.
package configwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/fallbatch/internal/config"
	"github.com/bft-labs/fallbatch/pkg/engine"
	"github.com/bft-labs/fallbatch/pkg/log"
)

// LoadFunc resolves the effective configuration after the file at path
// changed.
type LoadFunc func(path string) (config.Config, error)

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the config file to watch. Required.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// Load resolves the configuration. Default: LoadFile.
	Load LoadFunc
}

// DefaultConfig returns a Config watching path with default settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		DebounceDelay: 100 * time.Millisecond,
	}
}

// Plugin watches one config file and retunes the engine on change.
type Plugin struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration
	load          LoadFunc

	logger   log.Logger
	tuner    engine.Tuner
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	closed   bool
	reloads  int
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.Load == nil {
		cfg.Load = LoadFile
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
		load:          cfg.Load,
		logger:        log.NoopLogger{},
	}
}

// LoadFile resolves defaults overlaid with the file at path.
func LoadFile(path string) (config.Config, error) {
	cfg := config.DefaultConfig()
	fc, err := config.LoadFileConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyFileConfig(&cfg, fc, nil); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts the watcher. A plugin without a path or tuner stays
// idle.
func (p *Plugin) Initialize(ctx context.Context, cfg engine.PluginConfig) error {
	p.mu.Lock()
	p.logger = log.OrNoop(cfg.Logger).With(log.String("plugin", p.Name()))
	p.tuner = cfg.Tuner
	p.mu.Unlock()

	if p.path == "" || p.tuner == nil {
		p.logger.Warn("config watcher disabled: no config file or tuner")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher, cancels a pending reload and waits for a
// running one. No reload starts after Shutdown returns.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	p.closed = true
	p.stopDebounceLocked()
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Reloads returns how many reloads retuned the engine.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

// debounceReload (re)arms the reload timer. Every armed timer holds one wg
// slot until its callback returns or it is stopped.
func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.stopDebounceLocked()
	p.wg.Add(1)
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		defer p.wg.Done()
		if ctx.Err() != nil {
			return
		}
		if err := p.reload(); err != nil {
			p.logger.Error("config reload failed", log.Err(err))
		}
	})
}

// stopDebounceLocked releases the wg slot of a timer that had not fired.
func (p *Plugin) stopDebounceLocked() {
	if p.debounce != nil && p.debounce.Stop() {
		p.wg.Done()
	}
	p.debounce = nil
}

// reload applies the file's tuning. Invalid files leave the engine as is.
func (p *Plugin) reload() error {
	cfg, err := p.load(p.path)
	if err != nil {
		return err
	}
	next := tuningOf(cfg.Tuning())
	if next == p.tuner.Tuning() {
		p.logger.Debug("config changed without tuning changes")
		return nil
	}
	if err := p.tuner.Retune(next); err != nil {
		return fmt.Errorf("retune: %w", err)
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()

	p.logger.Info("engine retuned from config file",
		log.Int("max_batch_size", next.MaxBatchSize),
		log.Duration("flush_timeout", next.FlushTimeout),
		log.Int("max_retries", next.MaxRetries),
		log.Duration("timeout", next.Timeout),
	)
	return nil
}

func tuningOf(t config.Tuning) engine.Tuning {
	return engine.Tuning{
		MaxBatchSize: t.MaxBatchSize,
		FlushTimeout: t.FlushTimeout,
		WaitTimeout:  t.WaitTimeout,
		MaxRetries:   t.MaxRetries,
		Timeout:      t.AttemptTimeout,
	}
}

var _ engine.Plugin = (*Plugin)(nil)
