package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/aggregator"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/metrics"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

var (
	ingestLabel   string
	ingestStrict  bool
	ingestDryRun  bool
	ingestSegMode string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <battles.csv>",
	Short: "Aggregate a battle CSV and store the result as a run",
	Long: `Read a battle CSV (optionally .gz or .zst compressed), fold every row into
per-card usage / wins / plays, print the rankings and store the run.

Rows with an unparsable deck or missing fields are skipped and counted.
Rows where neither or both sides won are skipped as well, unless --strict
is set, in which case the whole ingest fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestLabel, "label", "", "label stored with the run (e.g. season-58)")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "fail on rows with neither or both winners")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "aggregate and print without storing")
	ingestCmd.Flags().StringVar(&ingestSegMode, "segments", "", "segment mode override: none, field, items")
	ingestCmd.Flags().Int("workers", 1, "parallel aggregation workers")

	_ = v.BindPFlag("workers", ingestCmd.Flags().Lookup("workers"))
}

// ingestOptions is everything one ingest needs, resolved from config and flags.
type ingestOptions struct {
	Path     string
	Columns  parser.Columns
	Router   segment.Router
	Policy   aggregator.OutcomePolicy
	Workers  int
	Observer *metrics.Ingest
}

func runIngest(cmd *cobra.Command, args []string) error {
	segCfg := cfg.Segments
	if ingestSegMode != "" {
		segCfg.Mode = ingestSegMode
	}
	router, err := segment.FromConfig(segCfg)
	if err != nil {
		return fmt.Errorf("segments: %w", err)
	}
	policy, err := aggregator.ParseOutcomePolicy(cfg.OutcomePolicy)
	if err != nil {
		return err
	}
	if ingestStrict {
		policy = aggregator.PolicyFail
	}

	opts := ingestOptions{
		Path:     args[0],
		Columns:  cfg.Columns.Parser(),
		Router:   router,
		Policy:   policy,
		Workers:  cfg.Workers,
		Observer: metrics.NewIngest(),
	}
	fmt.Fprintf(os.Stdout, "Aggregating %s...\n", opts.Path)
	res, err := aggregate(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if cfg.Metrics.Textfile != "" {
		if err := opts.Observer.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warnw("metrics textfile not written", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	report.PrintIngestSummary(os.Stdout, res.Summary)

	summary := model.RunSummary{Label: ingestLabel, Source: opts.Path, CreatedAt: time.Now()}
	if !ingestDryRun {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		run := &model.Run{Summary: summary, Result: res}
		if err := st.SaveRun(cmd.Context(), run); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		summary = run.Summary
		log.Infow("run stored", "run", summary.ID, "db", dbPath)
	}
	printResult(os.Stdout, summary, res)
	return nil
}

// aggregate runs one ingest pass over opts.Path.
func aggregate(ctx context.Context, opts ingestOptions) (*model.Result, error) {
	if err := opts.Columns.Validate(); err != nil {
		return nil, err
	}
	src, err := parser.OpenFile(opts.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	engineOpts := []aggregator.Option{
		aggregator.WithOutcomePolicy(opts.Policy),
		aggregator.WithLogger(log),
	}
	if opts.Observer != nil {
		engineOpts = append(engineOpts, aggregator.WithObserver(opts.Observer))
	}

	start := time.Now()
	var res *model.Result
	if opts.Workers > 1 {
		res, err = aggregator.RunParallel(ctx, src, opts.Columns, opts.Workers, func() *aggregator.Engine {
			return aggregator.New(opts.Router, engineOpts...)
		})
	} else {
		res, err = aggregator.Run(ctx, src, opts.Columns, opts.Router, engineOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", opts.Path, err)
	}
	elapsed := time.Since(start)

	cards := make(map[string]int, len(res.Segments))
	for _, seg := range res.Segments {
		cards[seg.Label] = len(seg.Cards)
	}
	if opts.Observer != nil {
		opts.Observer.Observe(elapsed, res.UniqueDecks, cards)
	}
	log.Infow("aggregation complete",
		"source", opts.Path,
		"accepted", res.Summary.Accepted,
		"skipped", res.Summary.Skipped,
		"unique_decks", res.UniqueDecks,
		"workers", opts.Workers,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return res, nil
}

func printResult(w io.Writer, summary model.RunSummary, res *model.Result) {
	summary.UniqueDecks = res.UniqueDecks
	summary.Accepted = res.Summary.Accepted
	summary.Skipped = res.Summary.Skipped
	summary.Segments = res.Labels()
	report.PrintRunSummary(w, summary)
	for _, seg := range res.Segments {
		report.PrintRankings(w, seg, cfg.Analysis.Top, cfg.Analysis.MinPlays)
	}
}
