// Package analysis derives rankings, rollups and segment comparisons from a
// frozen aggregation result. Nothing here mutates the result.
package analysis

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/aggregator"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// DefaultMinPlays is the sample floor used by win-rate rankings and
// comparisons when none is configured.
const DefaultMinPlays = 100

// ErrMinPlays is returned when a comparison floor is below one play.
var ErrMinPlays = errors.New("minimum plays must be at least 1")

// TopByUsage returns the n most used cards, ties broken by card id.
// n <= 0 returns every card.
func TopByUsage(seg model.SegmentResult, n int) []model.CardStats {
	rows := append([]model.CardStats(nil), seg.Cards...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Usage != rows[j].Usage {
			return rows[i].Usage > rows[j].Usage
		}
		return rows[i].Card < rows[j].Card
	})
	return head(rows, n)
}

// TopByWinRate returns the n cards with the highest win percentage among
// those with at least minPlays plays.
func TopByWinRate(seg model.SegmentResult, n, minPlays int) []model.CardStats {
	var rows []model.CardStats
	for _, c := range seg.Cards {
		if c.WinPct != nil && c.Plays >= minPlays {
			rows = append(rows, c)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		wi, wj := *rows[i].WinPct, *rows[j].WinPct
		if wi != wj {
			return wi > wj
		}
		if rows[i].Plays != rows[j].Plays {
			return rows[i].Plays > rows[j].Plays
		}
		return rows[i].Card < rows[j].Card
	})
	return head(rows, n)
}

func head(rows []model.CardStats, n int) []model.CardStats {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

// Delta is the win-rate change of one card between two segments.
type Delta struct {
	Card   string
	A      model.CardStats
	B      model.CardStats
	Change float64 // A win% minus B win%, percentage points
}

// Compare lists cards present in both segments with at least minPlays plays
// on each side, ordered by change (largest gain first).
func Compare(a, b model.SegmentResult, minPlays int) ([]Delta, error) {
	if minPlays < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrMinPlays, minPlays)
	}
	var out []Delta
	for _, ca := range a.Cards {
		cb, ok := b.Lookup(ca.Card)
		if !ok || ca.Plays < minPlays || cb.Plays < minPlays {
			continue
		}
		if ca.WinPct == nil || cb.WinPct == nil {
			continue
		}
		change := decimal.NewFromFloat(*ca.WinPct).
			Sub(decimal.NewFromFloat(*cb.WinPct)).
			Round(2).
			InexactFloat64()
		out = append(out, Delta{Card: ca.Card, A: ca, B: cb, Change: change})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Change != out[j].Change {
			return out[i].Change > out[j].Change
		}
		return out[i].Card < out[j].Card
	})
	return out, nil
}

// Rollup sums card rows sharing a group key. WinPct is weighted by plays:
// total wins over total plays of the member cards.
type Rollup struct {
	Group  string
	Cards  int
	Usage  int
	Wins   int
	Plays  int
	WinPct *float64
}

type rollupSet map[string]*Rollup

func (s rollupSet) add(group string, c model.CardStats) {
	r, ok := s[group]
	if !ok {
		r = &Rollup{Group: group}
		s[group] = r
	}
	r.Cards++
	r.Usage += c.Usage
	r.Wins += c.Wins
	r.Plays += c.Plays
}

func (s rollupSet) sorted() []Rollup {
	out := make([]Rollup, 0, len(s))
	for _, r := range s {
		r.WinPct = aggregator.WinPercentage(r.Wins, r.Plays)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
