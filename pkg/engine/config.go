package engine

import (
	"fmt"
	"time"

	"github.com/bft-labs/fallbatch/internal/domain"
)

// Config holds the engine tuning.
type Config struct {
	// Name labels logs and metrics. Default: "default".
	Name string

	// MaxBatchSize is the micro-batch capacity. Required.
	MaxBatchSize int

	// FlushTimeout is the idle delay before a partial batch is flushed and
	// the bound on every flush. Required.
	FlushTimeout time.Duration

	// WaitTimeout bounds how long Submit waits. Default: 2 * FlushTimeout.
	WaitTimeout time.Duration

	// MaxRetries is the number of extra primary attempts.
	MaxRetries int

	// Timeout bounds each backend call. Zero means unbounded.
	Timeout time.Duration

	// HandledErrors are the retryable primary errors, matched with
	// errors.Is. Empty retries every error.
	HandledErrors []error

	// RetryBackoff and RetryBackoffMax space primary retries. Zero disables.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// Tuning is the part of Config that can change while the engine runs.
type Tuning struct {
	MaxBatchSize int
	FlushTimeout time.Duration
	WaitTimeout  time.Duration
	MaxRetries   int
	Timeout      time.Duration
}

// SetDefaults fills optional fields.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: MaxBatchSize must be positive", domain.ErrInvalidConfig)
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("%w: FlushTimeout must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: MaxRetries must not be negative", domain.ErrInvalidConfig)
	}
	if c.WaitTimeout < 0 || c.Timeout < 0 {
		return fmt.Errorf("%w: WaitTimeout and Timeout must not be negative", domain.ErrInvalidConfig)
	}
	if c.RetryBackoff < 0 || c.RetryBackoffMax < 0 {
		return fmt.Errorf("%w: RetryBackoff and RetryBackoffMax must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

func (c Config) tuning() Tuning {
	return Tuning{
		MaxBatchSize: c.MaxBatchSize,
		FlushTimeout: c.FlushTimeout,
		WaitTimeout:  c.WaitTimeout,
		MaxRetries:   c.MaxRetries,
		Timeout:      c.Timeout,
	}
}

func (c *Config) apply(t Tuning) {
	c.MaxBatchSize = t.MaxBatchSize
	c.FlushTimeout = t.FlushTimeout
	c.WaitTimeout = t.WaitTimeout
	c.MaxRetries = t.MaxRetries
	c.Timeout = t.Timeout
}
