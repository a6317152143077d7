package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

// UnknownGroup labels cards missing from the reference table in rollups.
const UnknownGroup = "unknown"

// RefCard is one row of the card reference table.
type RefCard struct {
	Name   string
	Elixir int
	Rarity string
	IsEvo  bool
}

// ErrDuplicateCard is returned when the reference table lists the same card
// variant twice.
var ErrDuplicateCard = errors.New("duplicate card in reference table")

type refKey struct {
	name string
	evo  bool
}

// Reference holds the card table, one row per (name, evo variant).
type Reference struct {
	cards map[refKey]RefCard
}

// Len returns the number of rows.
func (r *Reference) Len() int { return len(r.cards) }

// Lookup returns the row for name in the requested variant. When the table
// only carries the other variant, that row is returned instead.
func (r *Reference) Lookup(name string, evo bool) (RefCard, bool) {
	if rc, ok := r.cards[refKey{name, evo}]; ok {
		return rc, true
	}
	rc, ok := r.cards[refKey{name, !evo}]
	return rc, ok
}

// LoadReference reads a card table CSV with the columns englishName,
// elixir_cost, rarity and is_evo. Extra columns are ignored. A card may
// appear once per is_evo value; a second row for the same variant is an
// error.
func LoadReference(r io.Reader) (*Reference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read reference header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	nameIdx, ok := col["englishName"]
	if !ok {
		return nil, errors.New("reference table has no englishName column")
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ref := &Reference{cards: make(map[refKey]RefCard)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reference line %d: %w", line, err)
		}
		if nameIdx >= len(rec) {
			continue
		}
		name := strings.TrimSpace(rec[nameIdx])
		if name == "" {
			continue
		}
		rc := RefCard{Name: name, Rarity: get(rec, "rarity"), IsEvo: segment.Truthy(get(rec, "is_evo"))}
		if s := get(rec, "elixir_cost"); s != "" {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("reference line %d: bad elixir_cost %q", line, s)
			}
			rc.Elixir = int(f)
		}
		key := refKey{name, rc.IsEvo}
		if _, dup := ref.cards[key]; dup {
			return nil, fmt.Errorf("reference line %d: %w: %q (is_evo=%t)", line, ErrDuplicateCard, name, rc.IsEvo)
		}
		ref.cards[key] = rc
	}
	return ref, nil
}

// EnrichedCard is a stats row joined with its reference data.
type EnrichedCard struct {
	model.CardStats
	Known  bool
	Elixir int
	Rarity string
	IsEvo  bool
}

// Join attaches reference data to every card of seg, preferring the evo
// variant of each row when evo is set. Cards missing from ref are kept with
// Known=false.
func Join(seg model.SegmentResult, ref *Reference, evo bool) []EnrichedCard {
	out := make([]EnrichedCard, 0, len(seg.Cards))
	for _, c := range seg.Cards {
		e := EnrichedCard{CardStats: c}
		if rc, ok := ref.Lookup(c.Card, evo); ok {
			e.Known = true
			e.Elixir = rc.Elixir
			e.Rarity = rc.Rarity
			e.IsEvo = rc.IsEvo
		}
		out = append(out, e)
	}
	return out
}

// ByRarity groups joined rows by rarity.
func ByRarity(rows []EnrichedCard) []Rollup {
	set := make(rollupSet)
	for _, r := range rows {
		group := r.Rarity
		if !r.Known || group == "" {
			group = UnknownGroup
		}
		set.add(group, r.CardStats)
	}
	return set.sorted()
}

// ByElixir groups joined rows by elixir cost, cheapest first, unknown last.
func ByElixir(rows []EnrichedCard) []Rollup {
	set := make(rollupSet)
	for _, r := range rows {
		group := UnknownGroup
		if r.Known {
			group = strconv.Itoa(r.Elixir)
		}
		set.add(group, r.CardStats)
	}
	out := set.sorted()
	sort.SliceStable(out, func(i, j int) bool {
		ci, errI := strconv.Atoi(out[i].Group)
		cj, errJ := strconv.Atoi(out[j].Group)
		if errI != nil || errJ != nil {
			return errI == nil && errJ != nil
		}
		return ci < cj
	})
	return out
}
