package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

func newTopologyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the signal routing table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			reg := topology.New(cfg.Budgets(), cfg.NewLogger(cmd.ErrOrStderr()))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tTIER\tREQUIRED\tOPTIONAL\tCONSENSUS\tTIMEOUT")
			for _, r := range reg.Rules() {
				consensus := "-"
				if r.RequireConsensus {
					consensus = string(r.Agreement)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Kind, r.Tier, list(r.Required), list(r.Optional), consensus, r.Timeout)
			}
			return tw.Flush()
		},
	}
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
