// Package parser turns raw match rows into normalized MatchRecords.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

var (
	// ErrRowParse marks a row whose fields cannot be parsed.
	ErrRowParse = errors.New("row parse error")
	// ErrOutcomeIntegrity marks a row where neither or both sides won.
	ErrOutcomeIntegrity = errors.New("outcome integrity violation")
)

// Kind classifies a rejected row.
type Kind int

const (
	KindParse Kind = iota
	KindOutcome
)

func (k Kind) String() string {
	if k == KindOutcome {
		return "outcome"
	}
	return "parse"
}

// RowError is the skip signal for one rejected row. It carries enough to
// find the row again in the source.
type RowError struct {
	Row  int
	Tag  string
	Kind Kind
	Err  error
}

func (e *RowError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("row %d (%s): %s: %v", e.Row, e.Tag, e.Kind, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Kind, e.Err)
}

func (e *RowError) Unwrap() []error {
	sentinel := ErrRowParse
	if e.Kind == KindOutcome {
		sentinel = ErrOutcomeIntegrity
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Columns names the source fields for both sides of a match.
type Columns struct {
	Participant [2]string
	Winner      [2]string
	Deck        [2]string
	Tag         string // optional
}

// DefaultColumns returns the column names of the battle CSV export.
func DefaultColumns() Columns {
	return Columns{
		Participant: [2]string{"players_0_hashtag", "players_1_hashtag"},
		Winner:      [2]string{"players_0_winner", "players_1_winner"},
		Deck:        [2]string{"players_0_spells", "players_1_spells"},
		Tag:         "replayTag",
	}
}

// Validate reports a missing column name.
func (c Columns) Validate() error {
	for i := 0; i < 2; i++ {
		if c.Participant[i] == "" || c.Winner[i] == "" || c.Deck[i] == "" {
			return fmt.Errorf("columns: side %d has an empty column name", i)
		}
	}
	return nil
}

// Normalize parses one raw row. On failure it returns a *RowError and no
// record; it never panics on malformed input.
func Normalize(row int, fields map[string]string, cols Columns) (*model.MatchRecord, error) {
	rec := &model.MatchRecord{Row: row}
	if cols.Tag != "" {
		rec.Tag = strings.TrimSpace(fields[cols.Tag])
	}
	fail := func(kind Kind, err error) (*model.MatchRecord, error) {
		return nil, &RowError{Row: row, Tag: rec.Tag, Kind: kind, Err: err}
	}

	for side := 0; side < 2; side++ {
		participant, ok := fields[cols.Participant[side]]
		if !ok {
			return fail(KindParse, fmt.Errorf("missing column %q", cols.Participant[side]))
		}
		participant = strings.TrimSpace(participant)
		if participant == "" {
			return fail(KindParse, fmt.Errorf("side %d: empty participant", side))
		}

		flag, ok := fields[cols.Winner[side]]
		if !ok {
			return fail(KindParse, fmt.Errorf("missing column %q", cols.Winner[side]))
		}
		won, err := ParseWinFlag(flag)
		if err != nil {
			return fail(KindParse, fmt.Errorf("side %d: %w", side, err))
		}

		rawDeck, ok := fields[cols.Deck[side]]
		if !ok {
			return fail(KindParse, fmt.Errorf("missing column %q", cols.Deck[side]))
		}
		cards, err := ParseDeck(rawDeck)
		if err != nil {
			return fail(KindParse, fmt.Errorf("side %d deck: %w", side, err))
		}

		rec.Sides[side] = model.DeckEntry{Participant: participant, Cards: cards}
		rec.Won[side] = won
	}

	if rec.Won[0] == rec.Won[1] {
		return fail(KindOutcome, fmt.Errorf("winner flags %t/%t", rec.Won[0], rec.Won[1]))
	}
	return rec, nil
}

// ParseWinFlag accepts integers (non-zero wins) and true/false.
func ParseWinFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n != 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return f != 0, nil
	}
	return false, fmt.Errorf("bad win flag %q", s)
}
