package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var summaryTop int

// summaryCmd is the cobra command for displaying a high-level store overview.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a high-level overview of the database",
	Long: `Display aggregate statistics about all runs stored in the database:
run count, date range, distinct cards, accepted and skipped rows, and the
most played cards summed across every run and segment.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().IntVar(&summaryTop, "top", 15, "number of most played cards to list")
}

func runSummary(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	ov, err := st.Overview(cmd.Context())
	if err != nil {
		return fmt.Errorf("get overview: %w", err)
	}
	if ov.TotalRuns == 0 {
		fmt.Fprintln(os.Stdout, "No runs stored yet. Run 'crstats ingest <battles.csv>' to add one.")
		return nil
	}
	totals, err := st.CardTotals(cmd.Context(), summaryTop)
	if err != nil {
		return fmt.Errorf("card totals: %w", err)
	}
	report.PrintOverview(os.Stdout, ov, totals)
	return nil
}
