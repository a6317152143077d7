package cmd

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/analysis"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/report"
)

var (
	rollupCards      string
	rollupSegment    string
	rollupArchetypes string
)

var rollupCmd = &cobra.Command{
	Use:   "rollup <run-prefix>",
	Short: "Group card stats by archetype, rarity and elixir cost",
	Long: `Roll up the cards of a stored run into groups with play-weighted win rates.

Archetype groups are always printed. A card listed under several archetypes
counts toward each. Rarity and elixir groups need a card reference table
passed with --cards (CSV with englishName, elixir_cost, rarity, is_evo).

--archetypes replaces the built-in mapping with a JSON object of
archetype → [card, ...].`,
	Args: cobra.ExactArgs(1),
	RunE: runRollup,
}

func init() {
	rollupCmd.Flags().StringVar(&rollupCards, "cards", "", "card reference CSV")
	rollupCmd.Flags().StringVar(&rollupSegment, "segment", "", "only roll up this segment")
	rollupCmd.Flags().StringVar(&rollupArchetypes, "archetypes", "", "archetype mapping JSON file")
}

func runRollup(cmd *cobra.Command, args []string) error {
	mapping := analysis.DefaultArchetypes()
	if rollupArchetypes != "" {
		b, err := os.ReadFile(rollupArchetypes)
		if err != nil {
			return fmt.Errorf("read archetypes: %w", err)
		}
		mapping = nil
		if err := json.Unmarshal(b, &mapping); err != nil {
			return fmt.Errorf("parse archetypes %s: %w", rollupArchetypes, err)
		}
	}

	var ref *analysis.Reference
	if rollupCards != "" {
		f, err := os.Open(rollupCards)
		if err != nil {
			return fmt.Errorf("open card table: %w", err)
		}
		ref, err = analysis.LoadReference(f)
		f.Close()
		if err != nil {
			return err
		}
		log.Debugw("card reference loaded", "path", rollupCards, "cards", ref.Len())
	}

	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, res, err := loadRun(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	segs, err := pickSegments(res, rollupSegment)
	if err != nil {
		return err
	}

	report.PrintRunSummary(os.Stdout, *run)
	for _, seg := range segs {
		report.PrintRollupTable(os.Stdout, fmt.Sprintf("Archetypes (%s)", seg.Label), analysis.ByArchetype(seg, mapping))
		if ref == nil {
			continue
		}
		rows := analysis.Join(seg, ref, isEvoSegment(seg.Label))
		unknown := 0
		for _, r := range rows {
			if !r.Known {
				unknown++
			}
		}
		if unknown > 0 {
			log.Warnw("cards missing from reference table", "segment", seg.Label, "count", unknown)
		}
		report.PrintRollupTable(os.Stdout, fmt.Sprintf("Rarity (%s)", seg.Label), analysis.ByRarity(rows))
		report.PrintRollupTable(os.Stdout, fmt.Sprintf("Elixir cost (%s)", seg.Label), analysis.ByElixir(rows))
	}
	return nil
}

// isEvoSegment reports whether label is the truthy side of a field router,
// i.e. the segment holding evolved cards.
func isEvoSegment(label string) bool {
	return cfg.Segments.Mode == "field" && label == cfg.Segments.Truthy
}
