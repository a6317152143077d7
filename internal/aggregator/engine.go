// Package aggregator folds normalized match records into per-card usage,
// win and play counts, one accumulator set per segment.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

// OutcomePolicy decides what happens to a row with neither or both winners.
type OutcomePolicy int

const (
	PolicySkip OutcomePolicy = iota
	PolicyFail
)

// ParseOutcomePolicy maps "skip"/"fail" to a policy.
func ParseOutcomePolicy(s string) (OutcomePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return PolicySkip, nil
	case "fail":
		return PolicyFail, nil
	default:
		return PolicySkip, fmt.Errorf("unknown outcome policy %q", s)
	}
}

func (p OutcomePolicy) String() string {
	if p == PolicyFail {
		return "fail"
	}
	return "skip"
}

// Observer receives per-row ingest events. Implementations must be safe for
// concurrent use when shared across parallel engines.
type Observer interface {
	RowAccepted()
	RowSkipped(reason string)
}

type nopObserver struct{}

func (nopObserver) RowAccepted()      {}
func (nopObserver) RowSkipped(string) {}

// Source yields raw rows until io.EOF.
type Source interface {
	Next() (parser.RawRow, error)
}

// ErrAborted is returned by Result after a pass was abandoned.
var ErrAborted = errors.New("aggregation aborted")

// Engine is one aggregation pass. It is not safe for concurrent use; run one
// engine per goroutine and Merge them.
type Engine struct {
	router   segment.Router
	policy   OutcomePolicy
	log      *zap.SugaredLogger
	obs      Observer
	segments map[string]*Accumulator
	decks    *Ledger
	summary  model.IngestSummary
	failed   error
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutcomePolicy sets the outcome integrity policy. Default is skip.
func WithOutcomePolicy(p OutcomePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the logger used for skip diagnostics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver attaches an ingest observer (e.g. metrics).
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// New creates an Engine. A nil router puts everything in one segment.
func New(router segment.Router, opts ...Option) *Engine {
	if router == nil {
		router = segment.Single(segment.DefaultLabel)
	}
	e := &Engine{
		router:   router,
		log:      zap.NewNop().Sugar(),
		obs:      nopObserver{},
		segments: make(map[string]*Accumulator),
		decks:    NewLedger(),
		summary:  model.IngestSummary{SkipReasons: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, label := range router.Labels() {
		e.accumulator(label)
	}
	return e
}

func (e *Engine) accumulator(label string) *Accumulator {
	acc, ok := e.segments[label]
	if !ok {
		acc = newAccumulator(label)
		e.segments[label] = acc
	}
	return acc
}

// Add folds one record into the segment accumulators. A record with
// neither or both sides winning goes through Reject under the engine's
// outcome policy instead.
func (e *Engine) Add(rec *model.MatchRecord) error {
	if rec.Won[0] == rec.Won[1] {
		return e.Reject(&parser.RowError{
			Row:  rec.Row,
			Tag:  rec.Tag,
			Kind: parser.KindOutcome,
			Err:  fmt.Errorf("winner flags %t/%t", rec.Won[0], rec.Won[1]),
		})
	}
	for side := 0; side < 2; side++ {
		e.addSide(rec.Sides[side], rec.Won[side])
	}
	e.summary.Accepted++
	e.obs.RowAccepted()
	return nil
}

func (e *Engine) addSide(deck model.DeckEntry, won bool) {
	items := make([]model.Item, 0, len(deck.Cards))
	for _, c := range deck.Cards {
		items = append(items, model.Item{ID: c.ID, Segment: e.router.Route(c)})
	}
	items = model.UniqueItems(items)
	id := model.NewIdentity(deck.Participant, items)
	e.decks.ObserveForUsage(id)

	bySegment := make(map[string][]string)
	for _, it := range items {
		bySegment[it.Segment] = append(bySegment[it.Segment], it.ID)
	}
	for label, cards := range bySegment {
		e.accumulator(label).Fold(id, cards, won)
	}
}

// Reject records a skipped row. Under PolicyFail an outcome violation is
// returned as an error and the engine must be discarded.
func (e *Engine) Reject(rerr *parser.RowError) error {
	if rerr.Kind == parser.KindOutcome && e.policy == PolicyFail {
		return rerr
	}
	reason := rerr.Kind.String()
	e.summary.Skipped++
	e.summary.SkipReasons[reason]++
	e.obs.RowSkipped(reason)
	e.log.Debugw("skipping row", "row", rerr.Row, "tag", rerr.Tag, "reason", reason, "error", rerr.Err)
	return nil
}

// Process normalizes and folds one raw row.
func (e *Engine) Process(row parser.RawRow, cols parser.Columns) error {
	if row.Err != nil {
		return e.Reject(&parser.RowError{Row: row.Index, Kind: parser.KindParse, Err: row.Err})
	}
	rec, err := parser.Normalize(row.Index, row.Fields, cols)
	if err != nil {
		var rerr *parser.RowError
		if errors.As(err, &rerr) {
			return e.Reject(rerr)
		}
		return err
	}
	return e.Add(rec)
}

const cancelCheckEvery = 256

// Consume reads src to the end. On error the engine is marked aborted and
// Result refuses to return its partial state.
func (e *Engine) Consume(ctx context.Context, src Source, cols parser.Columns) error {
	for n := 0; ; n++ {
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return e.abort(err)
			}
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return e.abort(err)
		}
		if err := e.Process(row, cols); err != nil {
			return e.abort(err)
		}
	}
}

func (e *Engine) abort(err error) error {
	e.failed = err
	return err
}

// Summary returns the accepted/skipped counters so far.
func (e *Engine) Summary() model.IngestSummary {
	return copySummary(e.summary)
}

// Result freezes the engine state.
func (e *Engine) Result() (*model.Result, error) {
	if e.failed != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, e.failed)
	}
	labels := make([]string, 0, len(e.segments))
	for label := range e.segments {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	res := &model.Result{
		UniqueDecks: e.decks.Len(),
		Segments:    make([]model.SegmentResult, 0, len(labels)),
		Summary:     copySummary(e.summary),
	}
	for _, label := range labels {
		res.Segments = append(res.Segments, e.segments[label].Snapshot())
	}
	return res, nil
}

func copySummary(s model.IngestSummary) model.IngestSummary {
	out := model.IngestSummary{
		Accepted:    s.Accepted,
		Skipped:     s.Skipped,
		SkipReasons: make(map[string]int, len(s.SkipReasons)),
	}
	for k, v := range s.SkipReasons {
		out.SkipReasons[k] = v
	}
	return out
}

// Run aggregates src in a single sequential pass.
func Run(ctx context.Context, src Source, cols parser.Columns, router segment.Router, opts ...Option) (*model.Result, error) {
	e := New(router, opts...)
	if err := e.Consume(ctx, src, cols); err != nil {
		return nil, err
	}
	return e.Result()
}
