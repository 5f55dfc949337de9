package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/config"
)

func newModelsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tUPSTREAM\tCHAIN\tACTIVE")
			for _, m := range cfg.Models {
				typ := m.Type
				if typ == "" {
					typ = config.TypeOpenAI
				}
				upstream := m.UpstreamModel
				if upstream == "" {
					upstream = m.Name
				}
				chain := "-"
				if i := slices.Index(cfg.FallbackChain, m.Name); i >= 0 {
					chain = fmt.Sprintf("%d", i+1)
				}
				active := ""
				if m.Name == cfg.Active {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Name, typ, upstream, chain, active)
			}
			return w.Flush()
		},
	}
}
