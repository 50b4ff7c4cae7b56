// Package config holds the engine configuration and its loaders. Values are
// layered: command-line flags win over FALLBATCH_* environment variables,
// which win over the config file, which wins over DefaultConfig.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
)

// Config is the complete engine and server configuration.
type Config struct {
	Name string

	MaxBatchSize int
	FlushTimeout time.Duration
	WaitTimeout  time.Duration

	MaxRetries      int
	AttemptTimeout  time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	HandledErrors   []string

	PrimaryURL   string
	SecondaryURL string
	AuthToken    string

	ListenAddr string

	CacheEnabled bool
	CacheTTL     time.Duration
	CacheDBPath  string

	LogLevel string
}

// Tuning is the subset of Config that can change while the engine runs.
type Tuning struct {
	MaxBatchSize   int
	FlushTimeout   time.Duration
	WaitTimeout    time.Duration
	MaxRetries     int
	AttemptTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Name:            "default",
		MaxBatchSize:    10,
		FlushTimeout:    50 * time.Millisecond,
		MaxRetries:      2,
		AttemptTimeout:  5 * time.Second,
		RetryBackoff:    0,
		RetryBackoffMax: time.Second,
		ListenAddr:      ":8080",
		CacheEnabled:    true,
		CacheTTL:        5 * time.Minute,
		LogLevel:        "info",
	}
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("max-batch-size must be positive, got %d", c.MaxBatchSize))
	}
	if c.FlushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flush-timeout must be positive, got %s", c.FlushTimeout))
	}
	if c.WaitTimeout < 0 {
		errs = append(errs, errors.New("wait-timeout must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must not be negative, got %d", c.MaxRetries))
	}
	if c.AttemptTimeout < 0 || c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		errs = append(errs, errors.New("attempt-timeout and retry backoff must not be negative"))
	}
	if _, err := ResolveHandledErrors(c.HandledErrors); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}

	if c.Name == "" {
		c.Name = "default"
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 2 * c.FlushTimeout
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		c.RetryBackoffMax = c.RetryBackoff
	}
	c.PrimaryURL = strings.TrimRight(c.PrimaryURL, "/")
	c.SecondaryURL = strings.TrimRight(c.SecondaryURL, "/")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// RequireBackends reports an error unless both backend URLs are set.
func (c *Config) RequireBackends() error {
	if c.PrimaryURL == "" || c.SecondaryURL == "" {
		return fmt.Errorf("%w: primary-url and secondary-url are required", domain.ErrInvalidConfig)
	}
	return nil
}

// Tuning returns the live-tunable part of c.
func (c Config) Tuning() Tuning {
	return Tuning{
		MaxBatchSize:   c.MaxBatchSize,
		FlushTimeout:   c.FlushTimeout,
		WaitTimeout:    c.WaitTimeout,
		MaxRetries:     c.MaxRetries,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// Masked returns a copy of c that is safe to print.
func (c Config) Masked() Config {
	if c.AuthToken != "" {
		c.AuthToken = "****"
	}
	c.HandledErrors = append([]string(nil), c.HandledErrors...)
	return c
}
