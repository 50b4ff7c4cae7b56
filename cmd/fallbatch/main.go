package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/fallbatch/internal/config"
	"github.com/bft-labs/fallbatch/pkg/log"
)

const longHelp = `fallbatch coalesces requests into bounded micro-batches and runs them
against a primary backend with bounded retries, falling back to a secondary
backend when the primary is exhausted.

Configuration precedence: flags > FALLBATCH_* environment > config file
(TOML, or YAML by extension) > defaults.`

var exampleUsage = strings.TrimSpace(`
  fallbatch serve --primary-url http://primary:9000 --secondary-url http://secondary:9000
  fallbatch exec '{"symbol":"BTC"}' --config $HOME/.fallbatch/config.yaml
  fallbatch config show --format yaml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the flag-bound configuration shared by all subcommands.
type cli struct {
	cfg     config.Config
	cfgPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.NewZerologAdapter(log.ParseLevel("info")).Error("fallbatch", log.Err(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:           "fallbatch",
		Short:         "Batching and fallback execution engine",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.bindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(c), newExecCmd(c), newConfigCmd(c))
	return root
}

func (c *cli) bindFlags(fs *pflag.FlagSet) {
	cfg := &c.cfg
	fs.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.fallbatch/config.toml)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "engine name used in logs and metric labels")

	fs.StringVar(&cfg.PrimaryURL, "primary-url", cfg.PrimaryURL, "primary backend base URL")
	fs.StringVar(&cfg.SecondaryURL, "secondary-url", cfg.SecondaryURL, "secondary backend base URL")
	fs.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "bearer token sent to both backends")

	fs.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "items per micro-batch")
	fs.DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "idle flush delay and batch call bound")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "how long a submitter waits for its result (default: 2x flush-timeout)")

	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "primary attempts beyond the first")
	fs.DurationVar(&cfg.AttemptTimeout, "attempt-timeout", cfg.AttemptTimeout, "bound for every backend call (0 = none)")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial delay between primary attempts (0 = none)")
	fs.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "maximum delay between primary attempts")
	fs.StringSliceVar(&cfg.HandledErrors, "handled-errors", cfg.HandledErrors,
		"retryable error kinds ("+strings.Join(config.HandledErrorNames(), ", ")+"); empty retries all")

	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address for serve")
	fs.BoolVar(&cfg.CacheEnabled, "cache", cfg.CacheEnabled, "answer repeated items from the result cache")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "result cache entry lifetime")
	fs.StringVar(&cfg.CacheDBPath, "cache-db", cfg.CacheDBPath, "SQLite file backing the result cache (empty = memory only)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}

// resolve layers file and environment values under the flags and validates
// the result. The returned loader repeats the same resolution for the
// config watcher.
func (c *cli) resolve(cmd *cobra.Command) (config.Config, string, func(string) (config.Config, error), error) {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = config.DefaultConfigPath()
	}
	if cfgFile != "" && !config.FileExists(cfgFile) {
		if c.cfgPath != "" {
			return config.Config{}, "", nil, fmt.Errorf("config file %s not found", c.cfgPath)
		}
		cfgFile = ""
	}

	flagged := c.cfg
	load := func(path string) (config.Config, error) {
		cfg := flagged
		if path != "" {
			fc, err := config.LoadFileConfig(path)
			if err != nil {
				return cfg, fmt.Errorf("load config: %w", err)
			}
			if err := config.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return cfg, err
			}
		}
		if err := config.ApplyEnvConfig(&cfg, changed); err != nil {
			return cfg, err
		}
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	cfg, err := load(cfgFile)
	return cfg, cfgFile, load, err
}

func newLogger(cfg config.Config) log.Logger {
	return log.NewZerologAdapter(log.ParseLevel(cfg.LogLevel)).With(log.String("name", cfg.Name))
}
