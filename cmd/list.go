package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "No runs stored yet. Run 'crstats ingest <battles.csv>' to add one.")
		return nil
	}
	report.PrintRunList(os.Stdout, runs)
	return nil
}
