package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var trendCmd = &cobra.Command{
	Use:   "trend <card>",
	Short: "Chronological usage and win-rate trend of one card across runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrend,
}

func runTrend(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	points, err := st.CardHistory(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	if len(points) == 0 {
		fmt.Printf("no runs contain %q\n", args[0])
		return nil
	}
	report.PrintCardHistory(os.Stdout, args[0], points)
	return nil
}
