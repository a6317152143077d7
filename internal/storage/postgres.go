package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PG is the Postgres run store.
type PG struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, log *zap.SugaredLogger) (*PG, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range strings.Split(postgresSchemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Infow("connected to postgres", "host", pool.Config().ConnConfig.Host)
	return &PG{pool: pool, log: log}, nil
}

// Close releases the pool.
func (p *PG) Close() error {
	p.pool.Close()
	return nil
}

// SaveRun stores a run; card rows are bulk-loaded with COPY.
func (p *PG) SaveRun(ctx context.Context, run *model.Run) error {
	if err := prepareRun(run); err != nil {
		return err
	}
	reasons, err := encodeReasons(run.Result.Summary.SkipReasons)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	s := run.Summary
	if _, err := tx.Exec(ctx, `DELETE FROM runs WHERE id = $1`, s.ID); err != nil {
		return fmt.Errorf("clear run: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO runs(id, label, source, created_at, accepted, skipped, unique_decks, skip_reasons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Label, s.Source, s.CreatedAt.UTC(), s.Accepted, s.Skipped, s.UniqueDecks, reasons,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	var segRows, cardRows [][]any
	for _, seg := range run.Result.Segments {
		segRows = append(segRows, []any{s.ID, seg.Label, seg.UniqueDecks})
		for _, c := range seg.Cards {
			cardRows = append(cardRows, []any{s.ID, seg.Label, c.Card, c.Usage, c.Wins, c.Plays, c.WinPct})
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"run_segments"},
		[]string{"run_id", "label", "unique_decks"}, pgx.CopyFromRows(segRows)); err != nil {
		return fmt.Errorf("copy run_segments: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"card_stats"},
		[]string{"run_id", "segment", "card", "usage", "wins", "plays", "win_pct"},
		pgx.CopyFromRows(cardRows)); err != nil {
		return fmt.Errorf("copy card_stats: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.log.Debugw("saved run", "run", s.ID, "cards", len(cardRows))
	return nil
}

func scanPGRun(row pgx.Row) (model.RunSummary, error) {
	var s model.RunSummary
	err := row.Scan(&s.ID, &s.Label, &s.Source, &s.CreatedAt, &s.Accepted, &s.Skipped, &s.UniqueDecks)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, err
}

func (p *PG) segmentLabels(ctx context.Context, runID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT label FROM run_segments WHERE run_id = $1 ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListRuns returns all stored runs, newest first.
func (p *PG) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.RunSummary, error) {
		return scanPGRun(r)
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Segments, err = p.segmentLabels(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetRunByPrefix finds the newest run whose id starts with prefix.
func (p *PG) GetRunByPrefix(ctx context.Context, prefix string) (*model.RunSummary, error) {
	s, err := scanPGRun(p.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM runs WHERE id LIKE $1 ORDER BY created_at DESC LIMIT 1`, prefix+"%"))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, prefix)
	}
	if err != nil {
		return nil, err
	}
	if s.Segments, err = p.segmentLabels(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadResult rebuilds the stored Result of a run.
func (p *PG) LoadResult(ctx context.Context, runID string) (*model.Result, error) {
	var uniqueDecks, accepted, skipped int
	var reasonsText string
	err := p.pool.QueryRow(ctx,
		`SELECT unique_decks, accepted, skipped, skip_reasons FROM runs WHERE id = $1`, runID).
		Scan(&uniqueDecks, &accepted, &skipped, &reasonsText)
	if errors.Is(err, pgx.ErrNoRows) {
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

	segRows, err := p.pool.Query(ctx,
		`SELECT label, unique_decks FROM run_segments WHERE run_id = $1 ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	var label string
	var n int
	if _, err := pgx.ForEachRow(segRows, []any{&label, &n}, func() error {
		b.segment(label, n)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT segment, card, usage, wins, plays, win_pct
		FROM card_stats WHERE run_id = $1 ORDER BY segment, card`, runID)
	if err != nil {
		return nil, err
	}
	var c model.CardStats
	var pct *float64
	if _, err := pgx.ForEachRow(rows, []any{&label, &c.Card, &c.Usage, &c.Wins, &c.Plays, &pct}, func() error {
		row := c
		row.WinPct = pct
		b.card(label, row)
		return nil
	}); err != nil {
		return nil, err
	}
	return b.build(), nil
}

// CardHistory returns one card's rows across every stored run, oldest first.
func (p *PG) CardHistory(ctx context.Context, card string) ([]model.CardHistoryPoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT r.id, r.label, r.created_at, c.segment, c.usage, c.wins, c.plays, c.win_pct
		FROM card_stats c JOIN runs r ON r.id = c.run_id
		WHERE c.card = $1
		ORDER BY r.created_at, r.id, c.segment`, card)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.CardHistoryPoint, error) {
		pt := model.CardHistoryPoint{Stats: model.CardStats{Card: card}}
		var created time.Time
		err := r.Scan(&pt.RunID, &pt.RunLabel, &created, &pt.Segment,
			&pt.Stats.Usage, &pt.Stats.Wins, &pt.Stats.Plays, &pt.Stats.WinPct)
		pt.CreatedAt = created.UTC()
		return pt, err
	})
}

// CardTotals sums wins and plays per card over every run and segment.
func (p *PG) CardTotals(ctx context.Context, limit int) ([]model.CardStats, error) {
	q := `SELECT card, SUM(wins)::int, SUM(plays)::int FROM card_stats GROUP BY card ORDER BY SUM(plays) DESC, card`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTotals(rows.Next, rows.Scan, rows.Err)
}

// Overview returns aggregate counts over the whole store.
func (p *PG) Overview(ctx context.Context) (model.DBOverview, error) {
	var ov model.DBOverview
	var earliest, latest *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at),
		       COALESCE(SUM(accepted), 0)::int, COALESCE(SUM(skipped), 0)::int
		FROM runs`).Scan(&ov.TotalRuns, &earliest, &latest, &ov.TotalAccepted, &ov.TotalSkipped)
	if err != nil {
		return ov, err
	}
	if earliest != nil {
		ov.EarliestRun = earliest.UTC()
	}
	if latest != nil {
		ov.LatestRun = latest.UTC()
	}
	err = p.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT card) FROM card_stats`).Scan(&ov.UniqueCards)
	return ov, err
}

// DeleteRun removes one run and its rows.
func (p *PG) DeleteRun(ctx context.Context, runID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	return nil
}

// Reset deletes every stored run.
func (p *PG) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `TRUNCATE card_stats, run_segments, runs`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// QueryRaw runs an arbitrary query and returns column names and rows as text.
func (p *PG) QueryRaw(ctx context.Context, query string) ([]string, [][]string, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	var out [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, formatRow(vals))
	}
	return cols, out, rows.Err()
}
