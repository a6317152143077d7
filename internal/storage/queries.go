package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/aggregator"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

// Fixed-width UTC layout so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// prepareRun fills in the id, timestamp and summary fields derived from the
// result.
func prepareRun(run *model.Run) error {
	if run.Result == nil {
		return errors.New("save run: nil result")
	}
	if run.Summary.ID == "" {
		run.Summary.ID = NewRunID()
	}
	if run.Summary.CreatedAt.IsZero() {
		run.Summary.CreatedAt = time.Now()
	}
	run.Summary.Accepted = run.Result.Summary.Accepted
	run.Summary.Skipped = run.Result.Summary.Skipped
	run.Summary.UniqueDecks = run.Result.UniqueDecks
	run.Summary.Segments = run.Result.Labels()
	return nil
}

func encodeReasons(m map[string]int) (string, error) {
	if m == nil {
		m = map[string]int{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode skip reasons: %w", err)
	}
	return string(b), nil
}

func decodeReasons(s string) (map[string]int, error) {
	out := map[string]int{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode skip reasons: %w", err)
	}
	if out == nil {
		out = map[string]int{}
	}
	return out, nil
}

// resultBuilder reassembles a Result from segment and card rows.
type resultBuilder struct {
	res   *model.Result
	index map[string]int
}

func newResultBuilder(uniqueDecks, accepted, skipped int, reasons map[string]int) *resultBuilder {
	return &resultBuilder{
		res: &model.Result{
			UniqueDecks: uniqueDecks,
			Segments:    []model.SegmentResult{},
			Summary:     model.IngestSummary{Accepted: accepted, Skipped: skipped, SkipReasons: reasons},
		},
		index: make(map[string]int),
	}
}

func (b *resultBuilder) segment(label string, uniqueDecks int) {
	b.index[label] = len(b.res.Segments)
	b.res.Segments = append(b.res.Segments, model.SegmentResult{
		Label:       label,
		UniqueDecks: uniqueDecks,
		Cards:       []model.CardStats{},
	})
}

func (b *resultBuilder) card(label string, cs model.CardStats) {
	i, ok := b.index[label]
	if !ok {
		b.segment(label, 0)
		i = b.index[label]
	}
	b.res.Segments[i].Cards = append(b.res.Segments[i].Cards, cs)
}

func (b *resultBuilder) build() *model.Result {
	sort.Slice(b.res.Segments, func(i, j int) bool { return b.res.Segments[i].Label < b.res.Segments[j].Label })
	for _, seg := range b.res.Segments {
		cards := seg.Cards
		sort.Slice(cards, func(i, j int) bool { return cards[i].Card < cards[j].Card })
	}
	return b.res
}

func nullPct(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func pctPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// SaveRun stores a run and all its card rows in one transaction. An empty
// ID is replaced with a fresh uuid; re-saving an id replaces the run.
func (db *DB) SaveRun(ctx context.Context, run *model.Run) error {
	if err := prepareRun(run); err != nil {
		return err
	}
	reasons, err := encodeReasons(run.Result.Summary.SkipReasons)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s := run.Summary
	if _, err := tx.ExecContext(ctx, `DELETE FROM card_stats WHERE run_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear card_stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_segments WHERE run_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear run_segments: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs(id, label, source, created_at, accepted, skipped, unique_decks, skip_reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Label, s.Source, formatTime(s.CreatedAt), s.Accepted, s.Skipped, s.UniqueDecks, reasons,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	segStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO run_segments(run_id, label, unique_decks) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer segStmt.Close()

	cardStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO card_stats(run_id, segment, card, usage, wins, plays, win_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer cardStmt.Close()

	for _, seg := range run.Result.Segments {
		if _, err := segStmt.ExecContext(ctx, s.ID, seg.Label, seg.UniqueDecks); err != nil {
			return fmt.Errorf("insert run_segment %s: %w", seg.Label, err)
		}
		for _, c := range seg.Cards {
			_, err := cardStmt.ExecContext(ctx, s.ID, seg.Label, c.Card, c.Usage, c.Wins, c.Plays, nullPct(c.WinPct))
			if err != nil {
				return fmt.Errorf("insert card_stats for %s/%s: %w", seg.Label, c.Card, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	db.log.Debugw("saved run", "run", s.ID, "segments", len(run.Result.Segments))
	return nil
}

const runColumns = `id, label, source, created_at, accepted, skipped, unique_decks`

func scanRun(scan func(...any) error) (model.RunSummary, error) {
	var s model.RunSummary
	var created string
	if err := scan(&s.ID, &s.Label, &s.Source, &created, &s.Accepted, &s.Skipped, &s.UniqueDecks); err != nil {
		return s, err
	}
	t, err := parseTime(created)
	if err != nil {
		return s, fmt.Errorf("run %s: bad created_at %q: %w", s.ID, created, err)
	}
	s.CreatedAt = t
	return s, nil
}

func (db *DB) segmentLabels(ctx context.Context, runID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT label FROM run_segments WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListRuns returns all stored runs, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	var out []model.RunSummary
	for rows.Next() {
		s, err := scanRun(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Segments, err = db.segmentLabels(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetRunByPrefix finds the newest run whose id starts with prefix.
func (db *DB) GetRunByPrefix(ctx context.Context, prefix string) (*model.RunSummary, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY created_at DESC LIMIT 1`, prefix+"%")
	s, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, prefix)
	}
	if err != nil {
		return nil, err
	}
	if s.Segments, err = db.segmentLabels(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadResult rebuilds the stored Result of a run.
func (db *DB) LoadResult(ctx context.Context, runID string) (*model.Result, error) {
	var uniqueDecks, accepted, skipped int
	var reasonsText string
	err := db.conn.QueryRowContext(ctx,
		`SELECT unique_decks, accepted, skipped, skip_reasons FROM runs WHERE id = ?`, runID).
		Scan(&uniqueDecks, &accepted, &skipped, &reasonsText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	reasons, err := decodeReasons(reasonsText)
	if err != nil {
		return nil, err
	}
	b := newResultBuilder(uniqueDecks, accepted, skipped, reasons)

	segRows, err := db.conn.QueryContext(ctx,
		`SELECT label, unique_decks FROM run_segments WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	for segRows.Next() {
		var label string
		var n int
		if err := segRows.Scan(&label, &n); err != nil {
			segRows.Close()
			return nil, err
		}
		b.segment(label, n)
	}
	segRows.Close()
	if err := segRows.Err(); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT segment, card, usage, wins, plays, win_pct
		FROM card_stats WHERE run_id = ? ORDER BY segment, card`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var c model.CardStats
		var pct sql.NullFloat64
		if err := rows.Scan(&label, &c.Card, &c.Usage, &c.Wins, &c.Plays, &pct); err != nil {
			return nil, err
		}
		c.WinPct = pctPtr(pct)
		b.card(label, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// CardHistory returns one card's rows across every stored run, oldest first.
func (db *DB) CardHistory(ctx context.Context, card string) ([]model.CardHistoryPoint, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.id, r.label, r.created_at, c.segment, c.usage, c.wins, c.plays, c.win_pct
		FROM card_stats c JOIN runs r ON r.id = c.run_id
		WHERE c.card = ?
		ORDER BY r.created_at, r.id, c.segment`, card)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CardHistoryPoint
	for rows.Next() {
		p := model.CardHistoryPoint{Stats: model.CardStats{Card: card}}
		var created string
		var pct sql.NullFloat64
		if err := rows.Scan(&p.RunID, &p.RunLabel, &created, &p.Segment,
			&p.Stats.Usage, &p.Stats.Wins, &p.Stats.Plays, &pct); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		p.Stats.WinPct = pctPtr(pct)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CardTotals sums wins and plays per card over every run and segment,
// most played first. Usage is not summed: identities are not comparable
// across runs.
func (db *DB) CardTotals(ctx context.Context, limit int) ([]model.CardStats, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT card, SUM(wins), SUM(plays)
		FROM card_stats GROUP BY card
		ORDER BY SUM(plays) DESC, card LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTotals(rows.Next, rows.Scan, rows.Err)
}

func scanTotals(next func() bool, scan func(...any) error, errf func() error) ([]model.CardStats, error) {
	var out []model.CardStats
	for next() {
		var c model.CardStats
		if err := scan(&c.Card, &c.Wins, &c.Plays); err != nil {
			return nil, err
		}
		c.WinPct = aggregator.WinPercentage(c.Wins, c.Plays)
		out = append(out, c)
	}
	return out, errf()
}

// Overview returns aggregate counts over the whole store.
func (db *DB) Overview(ctx context.Context) (model.DBOverview, error) {
	var ov model.DBOverview
	var earliest, latest sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at),
		       COALESCE(SUM(accepted), 0), COALESCE(SUM(skipped), 0)
		FROM runs`).Scan(&ov.TotalRuns, &earliest, &latest, &ov.TotalAccepted, &ov.TotalSkipped)
	if err != nil {
		return ov, err
	}
	if earliest.Valid {
		if ov.EarliestRun, err = parseTime(earliest.String); err != nil {
			return ov, err
		}
	}
	if latest.Valid {
		if ov.LatestRun, err = parseTime(latest.String); err != nil {
			return ov, err
		}
	}
	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(DISTINCT card) FROM card_stats`).Scan(&ov.UniqueCards)
	return ov, err
}

// DeleteRun removes one run and its rows.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	return nil
}

// Reset deletes every stored run.
func (db *DB) Reset(ctx context.Context) error {
	for _, table := range []string{"card_stats", "run_segments", "runs"} {
		if _, err := db.conn.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// QueryRaw runs an arbitrary query and returns column names and rows as text.
func (db *DB) QueryRaw(ctx context.Context, query string) ([]string, [][]string, error) {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, formatRow(vals))
	}
	return cols, out, rows.Err()
}

func formatRow(vals []any) []string {
	row := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case nil:
			row[i] = "NULL"
		case []byte:
			row[i] = string(x)
		case time.Time:
			row[i] = x.UTC().Format(time.RFC3339)
		default:
			row[i] = fmt.Sprint(x)
		}
	}
	return row
}
