package model

import "time"

// ---- Aggregated output ----

// CardStats is one frozen row of the per-card table.
// WinPct is nil when Plays == 0.
type CardStats struct {
	Card   string   `json:"card"`
	Usage  int      `json:"usage_count"`
	Wins   int      `json:"win_count"`
	Plays  int      `json:"total_plays"`
	WinPct *float64 `json:"win_percentage,omitempty"`
}

// SegmentResult holds the statistics of one segment, rows sorted by card.
type SegmentResult struct {
	Label       string      `json:"label"`
	UniqueDecks int         `json:"unique_decks"`
	Cards       []CardStats `json:"cards"`
}

// Lookup returns the row for card, if present.
func (s SegmentResult) Lookup(card string) (CardStats, bool) {
	for _, c := range s.Cards {
		if c.Card == card {
			return c, true
		}
	}
	return CardStats{}, false
}

// UsageMap returns card → usage count.
func (s SegmentResult) UsageMap() map[string]int {
	out := make(map[string]int, len(s.Cards))
	for _, c := range s.Cards {
		out[c.Card] = c.Usage
	}
	return out
}

// WinsMap returns card → win count.
func (s SegmentResult) WinsMap() map[string]int {
	out := make(map[string]int, len(s.Cards))
	for _, c := range s.Cards {
		out[c.Card] = c.Wins
	}
	return out
}

// PlaysMap returns card → total plays.
func (s SegmentResult) PlaysMap() map[string]int {
	out := make(map[string]int, len(s.Cards))
	for _, c := range s.Cards {
		out[c.Card] = c.Plays
	}
	return out
}

// WinPctMap returns card → win percentage. Cards with an undefined win
// percentage are omitted.
func (s SegmentResult) WinPctMap() map[string]float64 {
	out := make(map[string]float64, len(s.Cards))
	for _, c := range s.Cards {
		if c.WinPct != nil {
			out[c.Card] = *c.WinPct
		}
	}
	return out
}

// IngestSummary counts accepted and skipped rows. Not part of the statistics.
type IngestSummary struct {
	Accepted    int            `json:"accepted"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

// Result is the immutable output of one aggregation pass.
type Result struct {
	UniqueDecks int             `json:"unique_decks"`
	Segments    []SegmentResult `json:"segments"`
	Summary     IngestSummary   `json:"summary"`
}

// Segment returns the segment with the given label.
func (r *Result) Segment(label string) (SegmentResult, bool) {
	for _, s := range r.Segments {
		if s.Label == label {
			return s, true
		}
	}
	return SegmentResult{}, false
}

// Labels returns the segment labels in result order.
func (r *Result) Labels() []string {
	out := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Label
	}
	return out
}

// ---- Persisted runs ----

// RunSummary is the stored metadata of one ingest run.
type RunSummary struct {
	ID          string
	Label       string
	Source      string
	CreatedAt   time.Time
	Accepted    int
	Skipped     int
	UniqueDecks int
	Segments    []string
}

// Run couples run metadata with its result for persistence.
type Run struct {
	Summary RunSummary
	Result  *Result
}

// CardHistoryPoint is one card's stats in one stored run, used by trend views.
type CardHistoryPoint struct {
	RunID     string
	RunLabel  string
	CreatedAt time.Time
	Segment   string
	Stats     CardStats
}

// DBOverview summarises the contents of the store.
type DBOverview struct {
	TotalRuns     int
	EarliestRun   time.Time
	LatestRun     time.Time
	UniqueCards   int
	TotalAccepted int
	TotalSkipped  int
}
