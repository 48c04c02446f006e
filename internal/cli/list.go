package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scribe-cli/scribe/internal/state"
)

// newListCommand builds `scribe list`.
func newListCommand(flags *rootFlags) *cobra.Command {
	var (
		all          bool
		statusFilter string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := resolveDeps(flags)
			if err != nil {
				return err
			}

			states := listFeatureStates(d.repoRoot)
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEATURE\tSTATUS\tPHASE\tPROGRESS\tCOST\tPR")

			shown := 0
			for _, fs := range states {
				if statusFilter != "" && string(fs.Status.OverallStatus) != statusFilter {
					continue
				}
				// Completed features are hidden unless --all or filtered.
				if !all && statusFilter == "" && fs.Status.OverallStatus == state.StatusCompleted {
					continue
				}
				pr := "-"
				if fs.Delivery.PRURL != "" {
					pr = fs.Delivery.PRURL
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t$%.4f\t%s\n",
					state.DirName(fs.Feature.Ordinal, fs.Feature.Slug),
					fs.Status.OverallStatus,
					fs.Status.CurrentPhase,
					fs.CompletionPercentage(),
					fs.CostSummary.TotalCostUSD,
					pr,
				)
				shown++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if shown == 0 {
				fmt.Println("no features")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include completed features")
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending, in_progress, completed, failed, paused)")
	return cmd
}
