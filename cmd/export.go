package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-prefix>",
	Short: "Export a stored run as JSON maps, CSV and a snapshot",
	Long: `Write the statistics of a stored run to --out:

  card_usage_data.json            card → usage count
  card_win_data.json              card → wins
  card_total_plays_data.json      card → total plays
  card_win_percentage_data.json   card → win %, cards with no plays omitted
  card_stats.csv                  all of the above as one table
  snapshot.json                   the full run, every segment

With more than one segment the per-card files go in one subdirectory per
segment label.

Example:
  crstats export 3f2a --out ./out`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "output directory")
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, res, err := loadRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	paths, err := report.ExportRun(exportOut, *run, res)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(os.Stdout, "wrote %s\n", p)
	}
	log.Infow("run exported", "run", run.ID, "dir", exportOut, "files", len(paths))
	return nil
}
