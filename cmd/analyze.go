package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/analysis"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

const analyzeSystemPrompt = `You are a Clash Royale meta analyst. You are given per-card statistics
aggregated from a batch of ladder battles and a question from the user.

Rules:
- Answer ONLY from the data provided. Never invent or estimate statistics.
- Always cite specific numbers when making a claim.
- If the data is insufficient to answer confidently, say so explicitly.
- Treat win rates on fewer than 100 plays as noise.
- Avoid generic deck-building advice unless it directly explains a pattern in the data.

Metrics glossary:
- usage_count: number of distinct decks (per player) the card appeared in.
- total_plays: battles the card was played in, repeats included.
- win_count: battles won by the side playing the card.
- win_percentage: win_count / total_plays * 100, two decimals.
- unique_decks: distinct player+deck combinations seen in the segment.
- change: win-rate difference in percentage points between two segments.`

var (
	analyzeModel  string
	analyzeAPIKey string
	analyzeTop    int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <run-prefix> <question>",
	Short: "AI-powered grounded analysis of a stored run (requires ANTHROPIC_API_KEY)",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Anthropic model to use (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeAPIKey, "api-key", "", "Anthropic API key (falls back to $ANTHROPIC_API_KEY)")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 25, "cards per ranking included in the context")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, res, err := loadRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	contextJSON, err := buildRunContext(run, res, analyzeTop, cfg.Analysis.MinPlays)
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}

	modelID := analyzeModel
	if modelID == "" {
		modelID = cfg.Anthropic.Model
	}
	apiKey := analyzeAPIKey
	if apiKey == "" {
		apiKey = cfg.Anthropic.APIKey
	}
	log.Debugw("analysis context built", "run", run.ID, "bytes", len(contextJSON), "model", modelID)
	return callAnthropic(cmd.Context(), apiKey, modelID, run, contextJSON, args[1])
}

type cardEntry struct {
	Card   string   `json:"card"`
	Usage  int      `json:"usage_count"`
	Wins   int      `json:"win_count"`
	Plays  int      `json:"total_plays"`
	WinPct *float64 `json:"win_percentage"`
}

func cardEntries(rows []model.CardStats) []cardEntry {
	out := make([]cardEntry, 0, len(rows))
	for _, c := range rows {
		out = append(out, cardEntry{Card: c.Card, Usage: c.Usage, Wins: c.Wins, Plays: c.Plays, WinPct: c.WinPct})
	}
	return out
}

// buildRunContext serialises the rankings of every segment of a run into
// compact JSON. With exactly two segments the win-rate comparison between
// them is included as well.
func buildRunContext(run *model.RunSummary, res *model.Result, top, minPlays int) (string, error) {
	segments := make([]map[string]any, 0, len(res.Segments))
	for _, seg := range res.Segments {
		segments = append(segments, map[string]any{
			"label":          seg.Label,
			"unique_decks":   seg.UniqueDecks,
			"cards":          len(seg.Cards),
			"most_used":      cardEntries(analysis.TopByUsage(seg, top)),
			"best_win_rates": cardEntries(analysis.TopByWinRate(seg, top, minPlays)),
		})
	}

	doc := map[string]any{
		"subject":      "run",
		"label":        run.Label,
		"source":       run.Source,
		"date":         run.CreatedAt.UTC().Format("2006-01-02"),
		"battles":      res.Summary.Accepted,
		"skipped_rows": res.Summary.Skipped,
		"unique_decks": res.UniqueDecks,
		"min_plays":    minPlays,
		"segments":     segments,
	}

	if len(res.Segments) == 2 {
		a, b := res.Segments[0], res.Segments[1]
		deltas, err := analysis.Compare(a, b, minPlays)
		if err != nil {
			return "", err
		}
		if top > 0 && len(deltas) > top {
			deltas = deltas[:top]
		}
		changes := make([]map[string]any, 0, len(deltas))
		for _, d := range deltas {
			changes = append(changes, map[string]any{
				"card":           d.Card,
				a.Label + "_pct": d.A.WinPct,
				b.Label + "_pct": d.B.WinPct,
				"change":         d.Change,
			})
		}
		doc["comparison"] = map[string]any{"a": a.Label, "b": b.Label, "changes": changes}
	}

	bs, err := json.Marshal(doc)
	return string(bs), err
}

// analysisMessage frames the run data and the question for the model. The
// header names the run so answers can refer to it.
func analysisMessage(run *model.RunSummary, dataJSON, question string) string {
	var b strings.Builder
	label := run.Label
	if label == "" {
		label = "unlabelled"
	}
	fmt.Fprintf(&b, "RUN: %s (%s), %d battles, %d unique decks, segments: %s\n",
		run.ID, label, run.Accepted, run.UniqueDecks, strings.Join(run.Segments, ", "))
	if run.Skipped > 0 {
		fmt.Fprintf(&b, "NOTE: %d input rows were skipped and are not in the data.\n", run.Skipped)
	}
	fmt.Fprintf(&b, "\nDATA:\n%s\n\nQUESTION: %s", dataJSON, question)
	return b.String()
}

// callAnthropic streams the model's answer about run to stdout.
func callAnthropic(ctx context.Context, apiKey, modelID string, run *model.RunSummary, dataJSON, question string) error {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY, anthropic.api_key or --api-key")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: analyzeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(analysisMessage(run, dataJSON, question))),
		},
	})

	fmt.Fprintf(os.Stdout, "\n─── AI Analysis: run %s ───────────────────────────\n", shortRunID(run.ID))
	for stream.Next() {
		evt := stream.Current()
		if evt.Type != "content_block_delta" {
			continue
		}
		if delta := evt.AsContentBlockDelta(); delta.Delta.Type == "text_delta" {
			fmt.Fprint(os.Stdout, delta.Delta.AsTextDelta().Text)
		}
	}
	fmt.Fprintln(os.Stdout, "\n─────────────────────────────────────────────────────")

	if err := stream.Err(); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "authentication") {
			return fmt.Errorf("analyze run %s: API authentication failed, check your API key", shortRunID(run.ID))
		}
		return fmt.Errorf("analyze run %s: %w", shortRunID(run.ID), err)
	}
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
