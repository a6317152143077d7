package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// Accumulator owns the counters and the dedup ledger of one segment.
type Accumulator struct {
	label  string
	ledger *Ledger
	usage  map[string]int
	wins   map[string]int
	plays  map[string]int
}

func newAccumulator(label string) *Accumulator {
	return &Accumulator{
		label:  label,
		ledger: NewLedger(),
		usage:  make(map[string]int),
		wins:   make(map[string]int),
		plays:  make(map[string]int),
	}
}

// Fold counts one match side. items are the unique card ids of the side that
// were routed to this segment; id is the identity of the whole side.
//
// Usage moves once per first-seen identity. Plays and wins move on every call.
func (a *Accumulator) Fold(id model.Identity, items []string, won bool) {
	if a.ledger.ObserveForUsage(id) {
		for _, card := range items {
			a.usage[card]++
		}
	}
	for _, card := range items {
		a.plays[card]++
		if won {
			a.wins[card]++
		}
	}
}

// Snapshot freezes the accumulator into a SegmentResult.
func (a *Accumulator) Snapshot() model.SegmentResult {
	cards := make(map[string]struct{}, len(a.plays))
	for c := range a.plays {
		cards[c] = struct{}{}
	}
	for c := range a.usage {
		cards[c] = struct{}{}
	}
	names := make([]string, 0, len(cards))
	for c := range cards {
		names = append(names, c)
	}
	sort.Strings(names)

	rows := make([]model.CardStats, 0, len(names))
	for _, c := range names {
		rows = append(rows, model.CardStats{
			Card:   c,
			Usage:  a.usage[c],
			Wins:   a.wins[c],
			Plays:  a.plays[c],
			WinPct: WinPercentage(a.wins[c], a.plays[c]),
		})
	}
	return model.SegmentResult{
		Label:       a.label,
		UniqueDecks: a.ledger.Len(),
		Cards:       rows,
	}
}

var hundred = decimal.NewFromInt(100)

// WinPercentage returns wins/plays*100 rounded to two places, or nil when
// plays is zero.
func WinPercentage(wins, plays int) *float64 {
	if plays <= 0 {
		return nil
	}
	pct := decimal.NewFromInt(int64(wins)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(plays))).
		Round(2).
		InexactFloat64()
	return &pct
}
