package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/aggregator"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/metrics"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

const battlesCSV = `replayTag,players_0_hashtag,players_0_winner,players_0_spells,players_1_hashtag,players_1_winner,players_1_spells
r1,P1,1,"[('A', 14, 0), ('B', 14, 0)]",P2,0,"[('B', 14, 0), ('C', 14, 0)]"
r2,P1,1,"[('A', 14, 0), ('B', 14, 0)]",P3,0,"[('D', 14, 0)]"
r3,P4,1,"[('A', 14, 0)]",P5,1,"[('C', 14, 0)]"
r4,P6,0,not a deck,P7,1,"[('A', 14, 0)]"
`

func writeBattles(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "battles.csv")
	if err := os.WriteFile(p, []byte(battlesCSV), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAggregate_SequentialAndParallelAgree(t *testing.T) {
	path := writeBattles(t)
	base := ingestOptions{
		Path:    path,
		Columns: parser.DefaultColumns(),
		Router:  segment.Single(segment.DefaultLabel),
		Policy:  aggregator.PolicySkip,
	}

	seq := base
	seq.Workers = 1
	seq.Observer = metrics.NewIngest()
	want, err := aggregate(context.Background(), seq)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	if want.Summary.Accepted != 2 || want.Summary.Skipped != 2 {
		t.Fatalf("summary = %+v, want 2 accepted, 2 skipped", want.Summary)
	}
	seg, _ := want.Segment(segment.DefaultLabel)
	if b, _ := seg.Lookup("B"); b.Usage != 2 || b.Plays != 3 || b.Wins != 2 {
		t.Errorf("B = %+v", b)
	}

	par := base
	par.Workers = 3
	got, err := aggregate(context.Background(), par)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	gotSeg, _ := got.Segment(segment.DefaultLabel)
	if len(gotSeg.Cards) != len(seg.Cards) {
		t.Fatalf("parallel cards = %d, want %d", len(gotSeg.Cards), len(seg.Cards))
	}
	for i := range seg.Cards {
		w, g := seg.Cards[i], gotSeg.Cards[i]
		if w.Card != g.Card || w.Usage != g.Usage || w.Wins != g.Wins || w.Plays != g.Plays {
			t.Errorf("card %d: parallel %+v, sequential %+v", i, g, w)
		}
	}
}

func TestAggregate_StrictFails(t *testing.T) {
	opts := ingestOptions{
		Path:    writeBattles(t),
		Columns: parser.DefaultColumns(),
		Router:  segment.Single(segment.DefaultLabel),
		Policy:  aggregator.PolicyFail,
		Workers: 1,
	}
	if _, err := aggregate(context.Background(), opts); err == nil {
		t.Fatal("expected strict ingest to fail on the row with two winners")
	}
}

func TestBuildRunContext(t *testing.T) {
	pct := func(f float64) *float64 { return &f }
	res := &model.Result{
		UniqueDecks: 4,
		Summary:     model.IngestSummary{Accepted: 300},
		Segments: []model.SegmentResult{
			{Label: "evo", Cards: []model.CardStats{{Card: "Knight", Usage: 3, Wins: 70, Plays: 100, WinPct: pct(70)}}},
			{Label: "non_evo", Cards: []model.CardStats{{Card: "Knight", Usage: 5, Wins: 55, Plays: 110, WinPct: pct(50)}}},
		},
	}
	out, err := buildRunContext(&model.RunSummary{ID: "x", Label: "s58"}, res, 10, 100)
	if err != nil {
		t.Fatalf("buildRunContext: %v", err)
	}
	var doc struct {
		Battles    int              `json:"battles"`
		Segments   []map[string]any `json:"segments"`
		Comparison struct {
			Changes []map[string]any `json:"changes"`
		} `json:"comparison"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Battles != 300 || len(doc.Segments) != 2 {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.Comparison.Changes) != 1 || doc.Comparison.Changes[0]["change"] != 20.0 {
		t.Errorf("changes = %v", doc.Comparison.Changes)
	}
}
