package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/models"
)

func newPerfCmd() *cobra.Command {
	var (
		addr  string
		model string
	)

	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Show live per-model performance from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := newAPIClient(addr).performance(cmd.Context(), model)
			if err != nil {
				return err
			}
			return writePerformance(os.Stdout, recs)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "relay server address")
	cmd.Flags().StringVar(&model, "model", "", "show a single model")
	return cmd
}

func writePerformance(out io.Writer, recs map[string]models.PerformanceRecord) error {
	names := make([]string, 0, len(recs))
	for name := range recs {
		names = append(names, name)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tCALLS\tSUCCESS\tRETRIES\tCACHED\tSHORT\tP50\tP95\tP99\tCOST")
	for _, name := range names {
		r := recs[name]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%d\t%d\t%d\t%s\t%s\t%s\t$%.4f\n",
			name, r.Calls, r.SuccessRate()*100, r.Retries, r.CacheHits, r.ShortCircuits,
			r.P50.Round(time.Millisecond), r.P95.Round(time.Millisecond), r.P99.Round(time.Millisecond),
			r.EstimatedCost)
	}
	return w.Flush()
}
