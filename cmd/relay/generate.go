package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/orchestrator"
)

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		model   string
		params  string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Run one prompt through the configured fallback chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			var p models.Params
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.orch.Generate(ctx, models.Request{
				Prompt: strings.Join(args, " "),
				Params: p,
				Model:  model,
			})
			if err != nil {
				var all *orchestrator.AllModelsFailedError
				if errors.As(err, &all) {
					for _, f := range all.Failures {
						fmt.Fprintf(os.Stderr, "  %s: %s (%d attempts): %s\n", f.Model, f.Reason, f.Attempts, f.Message)
					}
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Println(res.Response.Text)
			fmt.Fprintf(os.Stderr, "model=%s attempts=%d cached=%t latency=%s\n",
				res.Model, res.Attempts, res.Cached, res.Latency.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "pin to one registered model")
	cmd.Flags().StringVar(&params, "params", "", `invocation params as JSON, e.g. '{"temperature":0.2}'`)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
