package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/journal"
	"github.com/pario-ai/relay/pkg/models"
)

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var (
		model  string
		recent int
		since  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-model call history from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			j, err := journal.New(journal.Config{
				DBPath:        cfg.Journal.DBPath,
				RetentionDays: cfg.Journal.RetentionDays,
			})
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			ctx := cmd.Context()
			summary, err := j.Summary(ctx, model)
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Println("No journal entries found.")
				return nil
			}
			fmt.Print(formatSummary(summary))

			if recent <= 0 {
				return nil
			}
			opts := models.JournalQueryOpts{Model: model, Limit: recent}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}
			entries, err := j.Recent(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Print(formatEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent entries")
	cmd.Flags().StringVar(&since, "since", "", "start date for --recent (YYYY-MM-DD)")
	return cmd
}

func formatSummary(rows []models.JournalSummary) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCALLS\tOK\tFAILED\tCACHED\tSHORT-CIRCUITED\tAVG LATENCY\tTOKENS IN\tTOKENS OUT\tCOST")
	for _, s := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.0fms\t%d\t%d\t$%.4f\n",
			s.Model, s.Calls, s.Successes, s.Failures, s.CacheHits, s.ShortCircuits,
			s.AvgLatencyMs, s.TokensIn, s.TokensOut, s.Cost)
	}
	_ = w.Flush()
	return sb.String()
}

func formatEntries(entries []models.JournalEntry) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tMODEL\tOUTCOME\tATTEMPTS\tLATENCY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dms\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.RequestID, e.Model, e.Outcome,
			e.Attempts, e.LatencyMs, e.Error)
	}
	_ = w.Flush()
	return sb.String()
}
