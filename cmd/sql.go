package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the stats database",
	Long: `Run an arbitrary SQL query against the stats database and print results as a table.

Schema overview:
  runs(id, label, source, created_at, accepted, skipped, unique_decks, skip_reasons)
  run_segments(run_id, label, unique_decks)
  card_stats(run_id, segment, card, usage, wins, plays, win_pct)

win_pct is NULL for cards with no plays.

Example:
  crstats sql "SELECT card, SUM(plays) FROM card_stats GROUP BY card ORDER BY 2 DESC LIMIT 5"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	cols, rows, err := st.QueryRaw(cmd.Context(), query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}
	report.PrintRawTable(os.Stdout, cols, rows)
	fmt.Fprintf(os.Stdout, "\n(%d rows)\n", len(rows))
	return nil
}
