package config

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "FALLBATCH_"

// ApplyEnvConfig applies FALLBATCH_* environment variables to cfg, skipping
// flags present in changed. It fails on malformed values.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	return applyEnv(cfg, changed, os.Getenv)
}

func applyEnv(cfg *Config, changed map[string]bool, getenv func(string) string) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return getenv(EnvPrefix + name) }

	s.setString("name", env("NAME"), &cfg.Name)
	s.setString("primary-url", env("PRIMARY_URL"), &cfg.PrimaryURL)
	s.setString("secondary-url", env("SECONDARY_URL"), &cfg.SecondaryURL)
	s.setString("auth-token", env("AUTH_TOKEN"), &cfg.AuthToken)
	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("cache-db", env("CACHE_DB_PATH"), &cfg.CacheDBPath)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("max-batch-size", env("MAX_BATCH_SIZE"), false, &cfg.MaxBatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retries", env("MAX_RETRIES"), true, &cfg.MaxRetries); err != nil {
		return err
	}

	if err := s.setDuration("flush-timeout", env("FLUSH_TIMEOUT"), &cfg.FlushTimeout); err != nil {
		return err
	}
	if err := s.setDuration("wait-timeout", env("WAIT_TIMEOUT"), &cfg.WaitTimeout); err != nil {
		return err
	}
	if err := s.setDuration("attempt-timeout", env("ATTEMPT_TIMEOUT"), &cfg.AttemptTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff", env("RETRY_BACKOFF"), &cfg.RetryBackoff); err != nil {
		return err
	}
	if err := s.setDuration("retry-backoff-max", env("RETRY_BACKOFF_MAX"), &cfg.RetryBackoffMax); err != nil {
		return err
	}
	if err := s.setDuration("cache-ttl", env("CACHE_TTL"), &cfg.CacheTTL); err != nil {
		return err
	}

	s.setBoolFromString("cache", env("CACHE_ENABLED"), &cfg.CacheEnabled)
	s.setListFromString("handled-errors", env("HANDLED_ERRORS"), &cfg.HandledErrors)
	return nil
}
