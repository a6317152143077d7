package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var (
	showSegment string
	showTop     int
	showRanked  bool
)

var showCmd = &cobra.Command{
	Use:   "show <run-prefix>",
	Short: "Show the per-card table of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVar(&showSegment, "segment", "", "only show this segment")
	showCmd.Flags().IntVar(&showTop, "top", 0, "limit to the N most played cards (0 = all)")
	showCmd.Flags().BoolVar(&showRanked, "rankings", false, "print usage and win-rate rankings instead of the full table")
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, res, err := loadRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	segs, err := pickSegments(res, showSegment)
	if err != nil {
		return err
	}

	report.PrintRunSummary(os.Stdout, *run)
	report.PrintIngestSummary(os.Stdout, res.Summary)
	for _, seg := range segs {
		if showRanked {
			top := showTop
			if top <= 0 {
				top = cfg.Analysis.Top
			}
			report.PrintRankings(os.Stdout, seg, top, cfg.Analysis.MinPlays)
			continue
		}
		report.PrintCardTable(os.Stdout, seg, showTop)
	}
	return nil
}
