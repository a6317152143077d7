package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/config"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/storage"
)

var (
	dbPath   string
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
	log    = zap.NewNop().Sugar()
	v      = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "crstats",
	Short: "Clash Royale card usage and win-rate statistics",
	Long: `Aggregate head-to-head battle exports into per-card usage, wins, plays and
win percentage, optionally split into segments (e.g. evo / non-evo), and
store each ingest as a run for later inspection.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "path to SQLite database or postgres:// DSN")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./crstats.yaml or ~/.crstats/crstats.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	_ = v.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = c
	dbPath = c.DB

	l, err := config.NewLogger(c.Log)
	if err != nil {
		return err
	}
	logger = l
	log = l.Sugar()
	log.Debugw("config loaded", "db", dbPath, "workers", c.Workers, "segments", c.Segments.Mode)
	return nil
}

// openStore opens the configured store, creating the SQLite directory if needed.
func openStore(ctx context.Context) (storage.Store, error) {
	if !storage.IsPostgresDSN(dbPath) && dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := storage.OpenStore(ctx, dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}

// loadRun resolves a run id prefix and loads its result.
func loadRun(ctx context.Context, st storage.Store, prefix string) (*model.RunSummary, *model.Result, error) {
	run, err := st.GetRunByPrefix(ctx, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("get run: %w", err)
	}
	res, err := st.LoadResult(ctx, run.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load run %s: %w", run.ID, err)
	}
	return run, res, nil
}

// pickSegments returns the named segment, or every segment when name is empty.
func pickSegments(res *model.Result, name string) ([]model.SegmentResult, error) {
	if name == "" {
		return res.Segments, nil
	}
	seg, ok := res.Segment(name)
	if !ok {
		return nil, fmt.Errorf("run has no segment %q (have %v)", name, res.Labels())
	}
	return []model.SegmentResult{seg}, nil
}
