package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/analysis"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var compareMinPlays int

var compareCmd = &cobra.Command{
	Use:   "compare <run-prefix> <segment-a> <segment-b>",
	Short: "Win-rate change of each card between two segments of a run",
	Long: `List cards present in both segments with at least --min-plays plays on
each side, ordered by win-rate change (segment-a minus segment-b).

Example:
  crstats compare 3f2a evo non_evo --min-plays 200`,
	Args: cobra.ExactArgs(3),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().IntVar(&compareMinPlays, "min-plays", 0, "minimum plays on both sides (default from config)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, res, err := loadRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	a, ok := res.Segment(args[1])
	if !ok {
		return fmt.Errorf("run %s has no segment %q (have %v)", run.ID, args[1], res.Labels())
	}
	b, ok := res.Segment(args[2])
	if !ok {
		return fmt.Errorf("run %s has no segment %q (have %v)", run.ID, args[2], res.Labels())
	}

	minPlays := compareMinPlays
	if !cmd.Flags().Changed("min-plays") {
		minPlays = cfg.Analysis.MinPlays
	}
	deltas, err := analysis.Compare(a, b, minPlays)
	if err != nil {
		return err
	}
	report.PrintRunSummary(os.Stdout, *run)
	report.PrintCompareTable(os.Stdout, a.Label, b.Label, minPlays, deltas)
	return nil
}
