package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/fallbatch/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgFile, _, err := c.resolve(cmd)
			if err != nil {
				return err
			}
			out, err := render(config.ToFileConfig(cfg.Masked()), format)
			if err != nil {
				return err
			}
			if cfgFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", cfgFile)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	show.Flags().StringVar(&format, "format", "toml", "output format (toml, yaml)")
	cmd.AddCommand(show)
	return cmd
}

func render(fc config.FileConfig, format string) ([]byte, error) {
	switch format {
	case "toml":
		return toml.Marshal(fc)
	case "yaml", "yml":
		return yaml.Marshal(fc)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
