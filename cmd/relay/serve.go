package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var opts []server.Option
			if a.metrics != nil {
				opts = append(opts, server.WithMetrics(cfg.Metrics.Path,
					promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})))
			}

			log.Info().
				Int("models", len(cfg.Models)).
				Strs("fallback_chain", cfg.FallbackChain).
				Bool("cache", cfg.Cache.Enabled).
				Bool("journal", cfg.Journal.Enabled).
				Msg("relay starting")
			return server.New(cfg.Listen, a.orch, opts...).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
