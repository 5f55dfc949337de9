package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/models"
)

func newCircuitCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "circuit",
		Short: "Inspect and reset circuit breakers on a running server",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show every model's circuit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := newAPIClient(addr).circuits(cmd.Context())
			if err != nil {
				return err
			}
			return writeCircuits(os.Stdout, snaps)
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset <model>",
		Short: "Force a model's circuit closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := newAPIClient(addr).resetCircuit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Circuit for %s is %s.\n", snap.Model, snap.State)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&addr, "addr", "localhost:8080", "relay server address")
	cmd.AddCommand(statusCmd, resetCmd)
	return cmd
}

func writeCircuits(out io.Writer, snaps []models.BreakerSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATE\tFAILURES\tSHORT-CIRCUITS\tOPENED")
	for _, s := range snaps {
		opened := "-"
		if !s.OpenedAt.IsZero() && s.State != "closed" {
			opened = s.OpenedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.Model, s.State, s.ConsecutiveFailures, s.ShortCircuits, opened)
	}
	return w.Flush()
}
