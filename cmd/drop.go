package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/storage"
)

var (
	dropForce bool
	dropRun   string
)

// dropCmd deletes stored data: one run, or the whole database.
var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Delete the stats database or a single run",
	Long: `Permanently delete stored runs. Without --run the SQLite database file is
removed (a Postgres database is truncated instead). Re-ingest your battle
exports afterwards to rebuild.`,
	Args: cobra.NoArgs,
	RunE: runDrop,
}

func init() {
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "skip confirmation prompt")
	dropCmd.Flags().StringVar(&dropRun, "run", "", "only delete the run with this id prefix")
}

func runDrop(cmd *cobra.Command, args []string) error {
	target := dbPath
	if dropRun != "" {
		target = fmt.Sprintf("run %s in %s", dropRun, dbPath)
	}
	if !dropForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete: %s\n", target)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}

	if dropRun != "" || storage.IsPostgresDSN(dbPath) {
		return dropFromStore(cmd, target)
	}
	if err := os.Remove(dbPath); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stdout, "Database does not exist, nothing to drop.")
			return nil
		}
		return fmt.Errorf("remove database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	fmt.Fprintf(os.Stdout, "Deleted: %s\n", dbPath)
	return nil
}

func dropFromStore(cmd *cobra.Command, target string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if dropRun == "" {
		if err := st.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset database: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Deleted: %s\n", target)
		return nil
	}
	run, err := st.GetRunByPrefix(cmd.Context(), dropRun)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if err := st.DeleteRun(cmd.Context(), run.ID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Deleted run %s\n", run.ID)
	return nil
}
