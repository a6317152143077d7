package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

// deckLiteral renders cards as a Python-style tuple list with an evo flag.
func deckLiteral(cards ...string) string {
	s := "["
	for i, c := range cards {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("('%s', 14, 0)", c)
	}
	return s + "]"
}

// row builds one CSV row in the default column layout; side 0 wins when
// p0Wins is true.
func row(p0 string, d0 []string, p1 string, d1 []string, p0Wins bool) map[string]string {
	w0, w1 := "1", "0"
	if !p0Wins {
		w0, w1 = "0", "1"
	}
	return map[string]string{
		"players_0_hashtag": p0,
		"players_1_hashtag": p1,
		"players_0_winner":  w0,
		"players_1_winner":  w1,
		"players_0_spells":  deckLiteral(d0...),
		"players_1_spells":  deckLiteral(d1...),
	}
}

func runRows(t *testing.T, rows []map[string]string, router segment.Router, opts ...Option) *model.Result {
	t.Helper()
	res, err := Run(context.Background(), parser.NewSliceSource(rows), parser.DefaultColumns(), router, opts...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func scenarioRows() []map[string]string {
	return []map[string]string{
		row("P1", []string{"A", "B"}, "P2", []string{"B", "C"}, true),
		row("P1", []string{"A", "B"}, "P3", []string{"D"}, true),
	}
}

func mustStats(t *testing.T, res *model.Result, label, card string) model.CardStats {
	t.Helper()
	seg, ok := res.Segment(label)
	if !ok {
		t.Fatalf("segment %q missing", label)
	}
	cs, ok := seg.Lookup(card)
	if !ok {
		t.Fatalf("card %q missing from segment %q", card, label)
	}
	return cs
}

// ---- Core counting ----

func TestScenario_TwoMatches(t *testing.T) {
	res := runRows(t, scenarioRows(), nil)

	cases := []struct {
		card              string
		usage, wins, play int
	}{
		{"A", 1, 2, 2},
		{"B", 2, 2, 3}, // P1{A,B} once + P2{B,C} once
		{"C", 1, 0, 1},
		{"D", 1, 0, 1},
	}
	for _, c := range cases {
		cs := mustStats(t, res, segment.DefaultLabel, c.card)
		if cs.Usage != c.usage || cs.Wins != c.wins || cs.Plays != c.play {
			t.Errorf("%s: got usage=%d wins=%d plays=%d, want %d/%d/%d",
				c.card, cs.Usage, cs.Wins, cs.Plays, c.usage, c.wins, c.play)
		}
	}
	c := mustStats(t, res, segment.DefaultLabel, "C")
	if c.WinPct == nil || *c.WinPct != 0 {
		t.Errorf("C win%%: got %v, want 0", c.WinPct)
	}
	a := mustStats(t, res, segment.DefaultLabel, "A")
	if a.WinPct == nil || *a.WinPct != 100 {
		t.Errorf("A win%%: got %v, want 100", a.WinPct)
	}
	if res.UniqueDecks != 3 {
		t.Errorf("UniqueDecks: got %d, want 3", res.UniqueDecks)
	}
	if res.Summary.Accepted != 2 || res.Summary.Skipped != 0 {
		t.Errorf("summary: got %+v", res.Summary)
	}
}

func TestDedup_Idempotent(t *testing.T) {
	once := runRows(t, scenarioRows()[:1], nil)
	twice := runRows(t, append(scenarioRows()[:1], scenarioRows()[:1]...), nil)

	for _, card := range []string{"A", "B", "C"} {
		a := mustStats(t, once, segment.DefaultLabel, card)
		b := mustStats(t, twice, segment.DefaultLabel, card)
		if a.Usage != b.Usage {
			t.Errorf("%s usage changed on repeat: %d → %d", card, a.Usage, b.Usage)
		}
		if b.Plays != 2*a.Plays {
			t.Errorf("%s plays: got %d, want %d", card, b.Plays, 2*a.Plays)
		}
	}
}

func TestDedup_CardOrderIrrelevant(t *testing.T) {
	rows := []map[string]string{
		row("P1", []string{"A", "B", "C"}, "P2", []string{"X"}, true),
		row("P1", []string{"C", "A", "B"}, "P3", []string{"Y"}, false),
	}
	res := runRows(t, rows, nil)
	if cs := mustStats(t, res, segment.DefaultLabel, "A"); cs.Usage != 1 || cs.Plays != 2 || cs.Wins != 1 {
		t.Errorf("A: got %+v", cs)
	}
}

func TestDedup_DuplicateCardInDeckCountsOnce(t *testing.T) {
	rows := []map[string]string{
		row("P1", []string{"A", "A", "B"}, "P2", []string{"C"}, true),
	}
	res := runRows(t, rows, nil)
	if cs := mustStats(t, res, segment.DefaultLabel, "A"); cs.Usage != 1 || cs.Plays != 1 || cs.Wins != 1 {
		t.Errorf("A: got %+v", cs)
	}
}

func TestOrderIndependence(t *testing.T) {
	rows := randomRows(200, 7)
	base := runRows(t, rows, nil)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := append([]map[string]string(nil), rows...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := runRows(t, shuffled, nil)
		if !reflect.DeepEqual(base.Segments, got.Segments) || base.UniqueDecks != got.UniqueDecks {
			t.Fatalf("shuffle %d produced a different result", i)
		}
	}
}

func TestCounterInvariants(t *testing.T) {
	res := runRows(t, randomRows(500, 11), nil)
	for _, seg := range res.Segments {
		for _, cs := range seg.Cards {
			if cs.Wins > cs.Plays {
				t.Errorf("%s: wins %d > plays %d", cs.Card, cs.Wins, cs.Plays)
			}
			if cs.Usage > cs.Plays {
				t.Errorf("%s: usage %d > plays %d", cs.Card, cs.Usage, cs.Plays)
			}
			if cs.WinPct != nil && (*cs.WinPct < 0 || *cs.WinPct > 100) {
				t.Errorf("%s: win%% %v out of range", cs.Card, *cs.WinPct)
			}
		}
	}
}

// ---- Segments ----

func TestSegmentIsolation(t *testing.T) {
	deck := func(evo bool, cards ...string) string {
		flag := 0
		if evo {
			flag = 1
		}
		s := "["
		for i, c := range cards {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("('%s', 14, %d)", c, flag)
		}
		return s + "]"
	}
	rows := []map[string]string{{
		"players_0_hashtag": "P1",
		"players_1_hashtag": "P2",
		"players_0_winner":  "1",
		"players_1_winner":  "0",
		"players_0_spells":  deck(true, "Knight"),
		"players_1_spells":  deck(false, "Knight"),
	}}
	router := segment.Field{Index: 1, Truthy: "evo", Falsy: "non_evo"}
	res := runRows(t, rows, router)

	evo := mustStats(t, res, "evo", "Knight")
	plain := mustStats(t, res, "non_evo", "Knight")
	if evo.Plays != 1 || evo.Wins != 1 || evo.Usage != 1 {
		t.Errorf("evo Knight: got %+v", evo)
	}
	if plain.Plays != 1 || plain.Wins != 0 || plain.Usage != 1 {
		t.Errorf("non_evo Knight: got %+v", plain)
	}
	if got := res.Labels(); !reflect.DeepEqual(got, []string{"evo", "non_evo"}) {
		t.Errorf("labels: got %v", got)
	}
}

func TestSegments_EmptySegmentPresent(t *testing.T) {
	router := segment.Field{Index: 1, Truthy: "evo", Falsy: "non_evo"}
	res := runRows(t, scenarioRows(), router)
	seg, ok := res.Segment("evo")
	if !ok {
		t.Fatal("evo segment missing")
	}
	if len(seg.Cards) != 0 || seg.UniqueDecks != 0 {
		t.Errorf("evo segment should be empty, got %+v", seg)
	}
}

// ---- Skips and policy ----

func TestSkippedRowDoesNotAffectCounters(t *testing.T) {
	bad := row("P9", []string{"A"}, "P8", []string{"B"}, true)
	bad["players_0_spells"] = "[('A', 14"
	rows := append(scenarioRows(), bad)

	want := runRows(t, scenarioRows(), nil)
	got := runRows(t, rows, nil)
	if !reflect.DeepEqual(want.Segments, got.Segments) {
		t.Error("unparsable row changed the statistics")
	}
	if got.Summary.Accepted != 2 || got.Summary.Skipped != 1 || got.Summary.SkipReasons["parse"] != 1 {
		t.Errorf("summary: got %+v", got.Summary)
	}
}

func TestOutcomePolicy_Skip(t *testing.T) {
	tie := row("P1", []string{"A"}, "P2", []string{"B"}, true)
	tie["players_1_winner"] = "1"
	res := runRows(t, append(scenarioRows(), tie), nil)
	if res.Summary.SkipReasons["outcome"] != 1 {
		t.Errorf("expected one outcome skip, got %+v", res.Summary)
	}
}

func TestOutcomePolicy_FailAborts(t *testing.T) {
	tie := row("P1", []string{"A"}, "P2", []string{"B"}, true)
	tie["players_1_winner"] = "1"
	rows := append(scenarioRows(), tie)

	e := New(nil, WithOutcomePolicy(PolicyFail))
	err := e.Consume(context.Background(), parser.NewSliceSource(rows), parser.DefaultColumns())
	if !errors.Is(err, parser.ErrOutcomeIntegrity) {
		t.Fatalf("expected ErrOutcomeIntegrity, got %v", err)
	}
	if _, err := e.Result(); !errors.Is(err, ErrAborted) {
		t.Errorf("Result after abort: got %v, want ErrAborted", err)
	}
}

func TestAdd_GuardsOutcome(t *testing.T) {
	rec := &model.MatchRecord{
		Row: 7,
		Sides: [2]model.DeckEntry{
			{Participant: "P1", Cards: []model.Card{{ID: "A"}}},
			{Participant: "P2", Cards: []model.Card{{ID: "B"}}},
		},
		Won: [2]bool{true, true},
	}

	skip := New(nil)
	if err := skip.Add(rec); err != nil {
		t.Fatalf("skip policy: %v", err)
	}
	res, err := skip.Result()
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Accepted != 0 || res.Summary.SkipReasons["outcome"] != 1 {
		t.Errorf("summary: got %+v", res.Summary)
	}
	if seg, _ := res.Segment(segment.DefaultLabel); len(seg.Cards) != 0 {
		t.Errorf("rejected record reached the counters: %+v", seg.Cards)
	}

	rec.Won = [2]bool{false, false}
	strict := New(nil, WithOutcomePolicy(PolicyFail))
	if err := strict.Add(rec); !errors.Is(err, parser.ErrOutcomeIntegrity) {
		t.Errorf("fail policy: got %v, want ErrOutcomeIntegrity", err)
	}
}

func TestParseOutcomePolicy(t *testing.T) {
	cases := map[string]OutcomePolicy{"": PolicySkip, "skip": PolicySkip, "FAIL": PolicyFail}
	for in, want := range cases {
		got, err := ParseOutcomePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseOutcomePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOutcomePolicy("maybe"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestCancelDiscardsState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, parser.NewSliceSource(scenarioRows()), parser.DefaultColumns(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res != nil {
		t.Error("expected nil result after cancel")
	}
}

type countingObserver struct{ accepted, skipped int }

func (o *countingObserver) RowAccepted()      { o.accepted++ }
func (o *countingObserver) RowSkipped(string) { o.skipped++ }

func TestObserver(t *testing.T) {
	bad := row("P9", []string{"A"}, "", []string{"B"}, true)
	obs := &countingObserver{}
	runRows(t, append(scenarioRows(), bad), nil, WithObserver(obs))
	if obs.accepted != 2 || obs.skipped != 1 {
		t.Errorf("observer: got %+v", obs)
	}
}

// ---- Win percentage ----

func TestWinPercentage(t *testing.T) {
	if got := WinPercentage(0, 0); got != nil {
		t.Errorf("zero plays: got %v, want nil", *got)
	}
	cases := []struct {
		wins, plays int
		want        float64
	}{
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 8, 12.5},
		{5, 5, 100},
	}
	for _, c := range cases {
		got := WinPercentage(c.wins, c.plays)
		if got == nil || *got != c.want {
			t.Errorf("WinPercentage(%d, %d) = %v, want %v", c.wins, c.plays, got, c.want)
		}
	}
}

func TestSnapshot_ZeroPlaysUndefined(t *testing.T) {
	acc := newAccumulator("all")
	acc.usage["Ghost"] = 1
	seg := acc.Snapshot()
	cs, ok := seg.Lookup("Ghost")
	if !ok {
		t.Fatal("Ghost missing")
	}
	if cs.WinPct != nil {
		t.Errorf("expected undefined win%%, got %v", *cs.WinPct)
	}
	if _, ok := seg.WinPctMap()["Ghost"]; ok {
		t.Error("undefined win% should be omitted from the map")
	}
}

// ---- Parallel ----

// evoDeckLiteral is deckLiteral with a random evo flag per card.
func evoDeckLiteral(rng *rand.Rand, cards []string) string {
	s := "["
	for i, c := range cards {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("('%s', 14, %d)", c, rng.Intn(2))
	}
	return s + "]"
}

func randomRows(n int, seed int64) []map[string]string {
	rng := rand.New(rand.NewSource(seed))
	cards := []string{"Knight", "Archers", "Giant", "Hog Rider", "Zap", "Fireball", "Log", "Miner", "Golem", "Pekka"}
	players := []string{"#P1", "#P2", "#P3", "#P4", "#P5", "#P6"}
	pick := func() []string {
		k := 1 + rng.Intn(4)
		out := make([]string, k)
		for i := range out {
			out[i] = cards[rng.Intn(len(cards))]
		}
		return out
	}
	rows := make([]map[string]string, n)
	for i := range rows {
		d0, d1 := pick(), pick()
		rows[i] = row(players[rng.Intn(len(players))], d0, players[rng.Intn(len(players))], d1, rng.Intn(2) == 0)
		rows[i]["players_0_spells"] = evoDeckLiteral(rng, d0)
		rows[i]["players_1_spells"] = evoDeckLiteral(rng, d1)
	}
	return rows
}

var evoRouter = segment.Field{Index: 1, Truthy: "evo", Falsy: "non_evo"}

func TestRunParallel_MatchesSequential(t *testing.T) {
	rows := randomRows(1000, 3)
	seq := runRows(t, rows, evoRouter)
	for _, label := range []string{"evo", "non_evo"} {
		if seg, _ := seq.Segment(label); len(seg.Cards) == 0 {
			t.Fatalf("segment %s is empty; rows do not exercise both segments", label)
		}
	}

	for _, workers := range []int{1, 2, 4, 7} {
		par, err := RunParallel(context.Background(), parser.NewSliceSource(rows), parser.DefaultColumns(), workers,
			func() *Engine { return New(evoRouter) })
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if !reflect.DeepEqual(seq, par) {
			t.Errorf("workers=%d: parallel result differs from sequential", workers)
		}
	}
}

func TestRunParallel_SegmentedPermutation(t *testing.T) {
	rows := randomRows(2000, 11)
	want := runRows(t, rows, evoRouter)

	shuffled := append([]map[string]string(nil), rows...)
	rand.New(rand.NewSource(99)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, workers := range []int{2, 5} {
		got, err := RunParallel(context.Background(), parser.NewSliceSource(shuffled), parser.DefaultColumns(), workers,
			func() *Engine { return New(evoRouter) })
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Errorf("workers=%d: shuffled parallel result differs from sequential", workers)
		}
		for _, seg := range got.Segments {
			for _, c := range seg.Cards {
				if c.Wins > c.Plays || c.Usage > c.Plays || c.Usage < 1 {
					t.Errorf("%s/%s: counters out of bounds %+v", seg.Label, c.Card, c)
				}
			}
		}
	}
}

func TestRunParallel_StrictAbort(t *testing.T) {
	rows := randomRows(300, 5)
	rows[150]["players_1_winner"] = rows[150]["players_0_winner"]
	_, err := RunParallel(context.Background(), parser.NewSliceSource(rows), parser.DefaultColumns(), 3,
		func() *Engine { return New(nil, WithOutcomePolicy(PolicyFail)) })
	if !errors.Is(err, parser.ErrOutcomeIntegrity) {
		t.Fatalf("expected ErrOutcomeIntegrity, got %v", err)
	}
}

func TestMerge_SharedIdentityCountsOnce(t *testing.T) {
	a, b := New(nil), New(nil)
	rows := scenarioRows()
	for i, e := range []*Engine{a, b} {
		if err := e.Consume(context.Background(), parser.NewSliceSource(rows[i:i+1]), parser.DefaultColumns()); err != nil {
			t.Fatal(err)
		}
	}
	res, err := Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if cs := mustStats(t, res, segment.DefaultLabel, "A"); cs.Usage != 1 || cs.Plays != 2 {
		t.Errorf("A: got %+v", cs)
	}
	if res.Summary.Accepted != 2 {
		t.Errorf("accepted: got %d", res.Summary.Accepted)
	}
}

func TestMerge_DetectsInconsistency(t *testing.T) {
	a := New(nil)
	if err := a.Consume(context.Background(), parser.NewSliceSource(scenarioRows()), parser.DefaultColumns()); err != nil {
		t.Fatal(err)
	}
	// Corrupt a partition: usage above what its ledger can explain.
	a.segments[segment.DefaultLabel].usage["A"] = 5

	_, err := Merge(a)
	if !errors.Is(err, ErrMergeInconsistency) {
		t.Fatalf("expected ErrMergeInconsistency, got %v", err)
	}
	var mie *MergeInconsistencyError
	if !errors.As(err, &mie) || mie.Card != "A" {
		t.Errorf("expected error for card A, got %v", err)
	}
}
