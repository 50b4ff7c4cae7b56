package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config with string durations and optional scalars, so
// an absent key never overrides a default.
type FileConfig struct {
	Name            string   `toml:"name" yaml:"name"`
	MaxBatchSize    int      `toml:"max_batch_size" yaml:"max_batch_size"`
	FlushTimeout    string   `toml:"flush_timeout" yaml:"flush_timeout"`
	WaitTimeout     string   `toml:"wait_timeout" yaml:"wait_timeout"`
	MaxRetries      *int     `toml:"max_retries" yaml:"max_retries"`
	AttemptTimeout  string   `toml:"attempt_timeout" yaml:"attempt_timeout"`
	RetryBackoff    string   `toml:"retry_backoff" yaml:"retry_backoff"`
	RetryBackoffMax string   `toml:"retry_backoff_max" yaml:"retry_backoff_max"`
	HandledErrors   []string `toml:"handled_errors" yaml:"handled_errors"`
	PrimaryURL      string   `toml:"primary_url" yaml:"primary_url"`
	SecondaryURL    string   `toml:"secondary_url" yaml:"secondary_url"`
	AuthToken       string   `toml:"auth_token" yaml:"auth_token"`
	ListenAddr      string   `toml:"listen_addr" yaml:"listen_addr"`
	CacheEnabled    *bool    `toml:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL        string   `toml:"cache_ttl" yaml:"cache_ttl"`
	CacheDBPath     string   `toml:"cache_db_path" yaml:"cache_db_path"`
	LogLevel        string   `toml:"log_level" yaml:"log_level"`
}

// LoadFileConfig reads path as YAML when it ends in .yaml or .yml and as
// TOML otherwise.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = toml.Unmarshal(b, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.fallbatch/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".fallbatch", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, skipping flags present in changed.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("name", fc.Name, &cfg.Name)
	s.setString("primary-url", fc.PrimaryURL, &cfg.PrimaryURL)
	s.setString("secondary-url", fc.SecondaryURL, &cfg.SecondaryURL)
	s.setString("auth-token", fc.AuthToken, &cfg.AuthToken)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("cache-db", fc.CacheDBPath, &cfg.CacheDBPath)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt("max-batch-size", fc.MaxBatchSize, &cfg.MaxBatchSize)
	s.setIntPtr("max-retries", fc.MaxRetries, &cfg.MaxRetries)
	s.setBool("cache", fc.CacheEnabled, &cfg.CacheEnabled)
	s.setList("handled-errors", fc.HandledErrors, &cfg.HandledErrors)

	for _, d := range []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"flush-timeout", fc.FlushTimeout, &cfg.FlushTimeout},
		{"wait-timeout", fc.WaitTimeout, &cfg.WaitTimeout},
		{"attempt-timeout", fc.AttemptTimeout, &cfg.AttemptTimeout},
		{"retry-backoff", fc.RetryBackoff, &cfg.RetryBackoff},
		{"retry-backoff-max", fc.RetryBackoffMax, &cfg.RetryBackoffMax},
		{"cache-ttl", fc.CacheTTL, &cfg.CacheTTL},
	} {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// FileExists reports whether a file exists at p.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ToFileConfig renders c in file form, e.g. for printing the effective
// configuration.
func ToFileConfig(c Config) FileConfig {
	retries := c.MaxRetries
	cacheEnabled := c.CacheEnabled
	return FileConfig{
		Name:            c.Name,
		MaxBatchSize:    c.MaxBatchSize,
		FlushTimeout:    c.FlushTimeout.String(),
		WaitTimeout:     c.WaitTimeout.String(),
		MaxRetries:      &retries,
		AttemptTimeout:  c.AttemptTimeout.String(),
		RetryBackoff:    c.RetryBackoff.String(),
		RetryBackoffMax: c.RetryBackoffMax.String(),
		HandledErrors:   append([]string(nil), c.HandledErrors...),
		PrimaryURL:      c.PrimaryURL,
		SecondaryURL:    c.SecondaryURL,
		AuthToken:       c.AuthToken,
		ListenAddr:      c.ListenAddr,
		CacheEnabled:    &cacheEnabled,
		CacheTTL:        c.CacheTTL.String(),
		CacheDBPath:     c.CacheDBPath,
		LogLevel:        c.LogLevel,
	}
}
