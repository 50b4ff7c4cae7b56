package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bft-labs/fallbatch/pkg/engine"
)

type execSlot struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error,omitempty"`
}

func newExecCmd(c *cli) *cobra.Command {
	var batch bool
	cmd := &cobra.Command{
		Use:   "exec <json> [json...]",
		Short: "Run items once through the primary/secondary fallback",
		Long: `exec sends one JSON item through the fallback executor and prints the
result. With --batch every argument is an item of one batch execution and
failed items print a null result with their error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !batch && len(args) > 1 {
				return fmt.Errorf("exec takes one item; use --batch for %d", len(args))
			}
			items := make([]json.RawMessage, len(args))
			for i, a := range args {
				if !json.Valid([]byte(a)) {
					return fmt.Errorf("argument %d is not valid JSON", i+1)
				}
				items[i] = json.RawMessage(a)
			}

			cfg, _, _, err := c.resolve(cmd)
			if err != nil {
				return err
			}
			eng, err := newEngine(cfg, newLogger(cfg))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := eng.Start(ctx); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			defer eng.Stop()

			out, err := run(ctx, eng, items, batch)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "execute all arguments as one batch")
	return cmd
}

func run(ctx context.Context, eng *jsonEngine, items []json.RawMessage, batch bool) (any, error) {
	if !batch {
		return eng.Execute(ctx, items[0])
	}
	results, err := eng.ExecuteBatch(ctx, items)
	if err != nil {
		return nil, err
	}
	return slots(results), nil
}

func slots(results []engine.Result[json.RawMessage]) []execSlot {
	out := make([]execSlot, len(results))
	for i, r := range results {
		if r.Err != nil {
			msg := r.Err.Error()
			out[i].Error = &msg
			continue
		}
		out[i].Result = r.Value
	}
	return out
}
