package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/analysis"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

func pct(p *float64) string {
	if p == nil {
		return "—"
	}
	return fmt.Sprintf("%.2f%%", *p)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PrintRunSummary prints a one-line header for a stored run.
func PrintRunSummary(w io.Writer, s model.RunSummary) {
	label := s.Label
	if label == "" {
		label = "—"
	}
	fmt.Fprintf(w, "\nRun: %s  |  Label: %s  |  Date: %s  |  Rows: %d accepted, %d skipped  |  Decks: %d  |  Segments: %s\n\n",
		shortID(s.ID), label, s.CreatedAt.Local().Format("2006-01-02 15:04"),
		s.Accepted, s.Skipped, s.UniqueDecks, strings.Join(s.Segments, ", "))
}

// PrintIngestSummary prints accepted/skipped counts with skip reasons.
func PrintIngestSummary(w io.Writer, s model.IngestSummary) {
	fmt.Fprintf(w, "Accepted %d rows, skipped %d", s.Accepted, s.Skipped)
	if len(s.SkipReasons) > 0 {
		reasons := make([]string, 0, len(s.SkipReasons))
		for r := range s.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		parts := make([]string, len(reasons))
		for i, r := range reasons {
			parts[i] = fmt.Sprintf("%s=%d", r, s.SkipReasons[r])
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)
}

// PrintRunList prints stored runs, newest first.
func PrintRunList(w io.Writer, runs []model.RunSummary) {
	table := newTable(w)
	table.Header("ID", "LABEL", "DATE", "ACCEPTED", "SKIPPED", "DECKS", "SEGMENTS", "SOURCE")
	for _, r := range runs {
		table.Append(
			shortID(r.ID),
			r.Label,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(r.Accepted),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.UniqueDecks),
			strings.Join(r.Segments, ","),
			r.Source,
		)
	}
	table.Render()
}

// PrintCardTable prints the per-card table of one segment, most played
// first. top <= 0 prints every card.
func PrintCardTable(w io.Writer, seg model.SegmentResult, top int) {
	fmt.Fprintf(w, "\n--- %s (%d unique decks, %d cards) ---\n", seg.Label, seg.UniqueDecks, len(seg.Cards))
	rows := append([]model.CardStats(nil), seg.Cards...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Plays != rows[j].Plays {
			return rows[i].Plays > rows[j].Plays
		}
		return rows[i].Card < rows[j].Card
	})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	printCardRows(w, rows)
}

func printCardRows(w io.Writer, rows []model.CardStats) {
	table := newTable(w)
	table.Header("CARD", "USAGE", "WINS", "PLAYS", "WIN%", "95% CI", "SAMPLE")
	for _, c := range rows {
		ci := "—"
		if c.Plays > 0 {
			lo, hi := wilsonCI(c.Wins, c.Plays)
			ci = fmt.Sprintf("%.1f–%.1f", lo*100, hi*100)
		}
		table.Append(
			c.Card,
			strconv.Itoa(c.Usage),
			strconv.Itoa(c.Wins),
			strconv.Itoa(c.Plays),
			pct(c.WinPct),
			ci,
			sampleFlag(c.Plays),
		)
	}
	table.Render()
}

// PrintRankings prints the most used cards and the best win rates among
// cards with at least minPlays plays.
func PrintRankings(w io.Writer, seg model.SegmentResult, top, minPlays int) {
	fmt.Fprintf(w, "\nTop %d most used cards (%s):\n", top, seg.Label)
	printCardRows(w, analysis.TopByUsage(seg, top))

	fmt.Fprintf(w, "\nTop %d win rates, min %d plays (%s):\n", top, minPlays, seg.Label)
	best := analysis.TopByWinRate(seg, top, minPlays)
	if len(best) == 0 {
		fmt.Fprintln(w, "  (no card meets the play floor)")
		return
	}
	printCardRows(w, best)
}

// PrintCompareTable prints win-rate changes between two segments.
func PrintCompareTable(w io.Writer, labelA, labelB string, minPlays int, deltas []analysis.Delta) {
	fmt.Fprintf(w, "\nWin-rate change %s vs %s (min %d plays on both sides)\n", labelA, labelB, minPlays)
	if len(deltas) == 0 {
		fmt.Fprintln(w, "  (no card meets the play floor in both segments)")
		return
	}
	table := newTable(w)
	table.Header("CARD", strings.ToUpper(labelA)+" PLAYS", strings.ToUpper(labelA)+" WIN%",
		strings.ToUpper(labelB)+" PLAYS", strings.ToUpper(labelB)+" WIN%", "CHANGE")
	for _, d := range deltas {
		table.Append(
			d.Card,
			strconv.Itoa(d.A.Plays),
			pct(d.A.WinPct),
			strconv.Itoa(d.B.Plays),
			pct(d.B.WinPct),
			fmt.Sprintf("%+.2f", d.Change),
		)
	}
	table.Render()
}

// PrintRollupTable prints grouped totals with a play-weighted win rate.
func PrintRollupTable(w io.Writer, title string, rows []analysis.Rollup) {
	fmt.Fprintf(w, "\n%s\n", title)
	table := newTable(w)
	table.Header("GROUP", "CARDS", "USAGE", "WINS", "PLAYS", "WIN%")
	for _, r := range rows {
		table.Append(
			r.Group,
			strconv.Itoa(r.Cards),
			strconv.Itoa(r.Usage),
			strconv.Itoa(r.Wins),
			strconv.Itoa(r.Plays),
			pct(r.WinPct),
		)
	}
	table.Render()
}

// PrintCardHistory prints one card across stored runs, oldest first.
func PrintCardHistory(w io.Writer, card string, points []model.CardHistoryPoint) {
	fmt.Fprintf(w, "\n%s across %d run/segment rows\n", card, len(points))
	table := newTable(w)
	table.Header("RUN", "LABEL", "DATE", "SEGMENT", "USAGE", "WINS", "PLAYS", "WIN%", "Δ WIN%")
	prev := map[string]*float64{}
	for _, p := range points {
		delta := "—"
		if last, ok := prev[p.Segment]; ok && last != nil && p.Stats.WinPct != nil {
			delta = fmt.Sprintf("%+.2f", *p.Stats.WinPct-*last)
		}
		prev[p.Segment] = p.Stats.WinPct
		table.Append(
			shortID(p.RunID),
			p.RunLabel,
			p.CreatedAt.Local().Format("2006-01-02"),
			p.Segment,
			strconv.Itoa(p.Stats.Usage),
			strconv.Itoa(p.Stats.Wins),
			strconv.Itoa(p.Stats.Plays),
			pct(p.Stats.WinPct),
			delta,
		)
	}
	table.Render()
}

// PrintOverview prints the store summary and the most played cards.
func PrintOverview(w io.Writer, ov model.DBOverview, totals []model.CardStats) {
	fmt.Fprintln(w, "\n=== Database Overview ===")
	fmt.Fprintf(w, "  Runs:          %d\n", ov.TotalRuns)
	if ov.TotalRuns > 0 {
		fmt.Fprintf(w, "  Date range:    %s → %s\n",
			ov.EarliestRun.Local().Format("2006-01-02"), ov.LatestRun.Local().Format("2006-01-02"))
	}
	fmt.Fprintf(w, "  Unique cards:  %d\n", ov.UniqueCards)
	fmt.Fprintf(w, "  Rows:          %d accepted, %d skipped\n", ov.TotalAccepted, ov.TotalSkipped)
	if len(totals) == 0 {
		return
	}

	fmt.Fprintln(w, "\n=== Most Played Cards (all runs) ===")
	table := newTable(w)
	table.Header("CARD", "WINS", "PLAYS", "WIN%")
	for _, c := range totals {
		table.Append(c.Card, strconv.Itoa(c.Wins), strconv.Itoa(c.Plays), pct(c.WinPct))
	}
	table.Render()
}

// PrintRawTable prints arbitrary query output.
func PrintRawTable(w io.Writer, cols []string, rows [][]string) {
	table := newTable(w)
	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	table.Header(colsAny...)
	for _, row := range rows {
		rowAny := make([]any, len(row))
		for i, v := range row {
			rowAny[i] = v
		}
		table.Append(rowAny...)
	}
	table.Render()
}

func sampleFlag(plays int) string {
	switch {
	case plays >= analysis.DefaultMinPlays:
		return "OK"
	case plays >= 30:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// wilsonCI computes the 95% Wilson score confidence interval for a proportion.
// Returns (lo, hi) as fractions in [0, 1].
func wilsonCI(hits, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 1
	}
	z := 1.96
	p := float64(hits) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}
