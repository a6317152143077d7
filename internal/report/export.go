package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// Export file names, one set per segment.
const (
	UsageFile    = "card_usage_data.json"
	WinsFile     = "card_win_data.json"
	PlaysFile    = "card_total_plays_data.json"
	WinPctFile   = "card_win_percentage_data.json"
	StatsCSVFile = "card_stats.csv"
	SnapshotFile = "snapshot.json"
)

// Snapshot is the full export document of one run.
type Snapshot struct {
	RunID     string        `json:"run_id,omitempty"`
	Label     string        `json:"label,omitempty"`
	Source    string        `json:"source,omitempty"`
	CreatedAt string        `json:"created_at,omitempty"`
	Result    *model.Result `json:"result"`
}

// ExportRun writes the per-segment statistic files and a snapshot under dir.
// With a single segment the files go straight into dir; otherwise each
// segment gets its own subdirectory. It returns the paths written.
func ExportRun(dir string, run model.RunSummary, res *model.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	var written []string
	for _, seg := range res.Segments {
		segDir := dir
		if len(res.Segments) > 1 {
			segDir = filepath.Join(dir, seg.Label)
			if err := os.MkdirAll(segDir, 0755); err != nil {
				return written, fmt.Errorf("create segment dir: %w", err)
			}
		}
		paths, err := exportSegment(segDir, seg)
		written = append(written, paths...)
		if err != nil {
			return written, fmt.Errorf("export segment %s: %w", seg.Label, err)
		}
	}

	snap := Snapshot{RunID: run.ID, Label: run.Label, Source: run.Source, Result: res}
	if !run.CreatedAt.IsZero() {
		snap.CreatedAt = run.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	p := filepath.Join(dir, SnapshotFile)
	if err := writeJSON(p, snap); err != nil {
		return written, err
	}
	return append(written, p), nil
}

func exportSegment(dir string, seg model.SegmentResult) ([]string, error) {
	maps := []struct {
		name string
		v    any
	}{
		{UsageFile, seg.UsageMap()},
		{WinsFile, seg.WinsMap()},
		{PlaysFile, seg.PlaysMap()},
		{WinPctFile, seg.WinPctMap()},
	}
	var written []string
	for _, m := range maps {
		p := filepath.Join(dir, m.name)
		if err := writeJSON(p, m.v); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	p := filepath.Join(dir, StatsCSVFile)
	if err := writeStatsCSV(p, seg); err != nil {
		return written, err
	}
	return append(written, p), nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeStatsCSV(path string, seg model.SegmentResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeStatsTable(f, seg); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// writeStatsTable writes seg as CSV with one row per card. An undefined win
// percentage is written as an empty field.
func writeStatsTable(out io.Writer, seg model.SegmentResult) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"card", "usage_count", "win_count", "total_plays", "win_percentage"}); err != nil {
		return err
	}
	for _, c := range seg.Cards {
		winPct := ""
		if c.WinPct != nil {
			winPct = strconv.FormatFloat(*c.WinPct, 'f', 2, 64)
		}
		if err := w.Write([]string{c.Card, strconv.Itoa(c.Usage), strconv.Itoa(c.Wins), strconv.Itoa(c.Plays), winPct}); err != nil {
			return fmt.Errorf("card %s: %w", c.Card, err)
		}
	}
	w.Flush()
	return w.Error()
}
