package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/model"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
)

// ErrMergeInconsistency marks a merge whose recomputed usage falls outside
// the bounds implied by the partitions.
var ErrMergeInconsistency = errors.New("merge inconsistency")

// MergeInconsistencyError names the offending card and the bounds it broke.
type MergeInconsistencyError struct {
	Segment string
	Card    string
	Merged  int
	Low     int
	High    int
}

func (e *MergeInconsistencyError) Error() string {
	return fmt.Sprintf("merge inconsistency: segment %q card %q usage %d outside [%d, %d]",
		e.Segment, e.Card, e.Merged, e.Low, e.High)
}

func (e *MergeInconsistencyError) Is(target error) bool { return target == ErrMergeInconsistency }

const rowBuffer = 512

// RunParallel partitions src round-robin across workers engines and merges
// their partial results. newEngine must return a fresh engine per call, all
// built with the same router.
func RunParallel(ctx context.Context, src Source, cols parser.Columns, workers int, newEngine func() *Engine) (*model.Result, error) {
	if workers < 1 {
		workers = 1
	}
	engines := make([]*Engine, workers)
	chans := make([]chan parser.RawRow, workers)
	for i := range engines {
		engines[i] = newEngine()
		chans[i] = make(chan parser.RawRow, rowBuffer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for n := 0; ; n++ {
			row, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case chans[n%workers] <- row:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := range engines {
		e, ch := engines[i], chans[i]
		g.Go(func() error {
			for row := range ch {
				if err := e.Process(row, cols); err != nil {
					return e.abort(err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Merge(engines...)
}

// Merge combines partial engines into one result. Plays and wins are summed;
// usage is recomputed from the union of the identity ledgers so an identity
// seen by several partitions still counts once.
func Merge(engines ...*Engine) (*model.Result, error) {
	if len(engines) == 0 {
		return nil, errors.New("merge: no engines")
	}
	for _, e := range engines {
		if e.failed != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, e.failed)
		}
	}

	merged := &Engine{
		segments: make(map[string]*Accumulator),
		decks:    NewLedger(),
		summary:  model.IngestSummary{SkipReasons: make(map[string]int)},
	}
	for _, e := range engines {
		merged.decks.union(e.decks)
		merged.summary.Accepted += e.summary.Accepted
		merged.summary.Skipped += e.summary.Skipped
		for k, v := range e.summary.SkipReasons {
			merged.summary.SkipReasons[k] += v
		}
		for label, part := range e.segments {
			acc := merged.accumulator(label)
			acc.ledger.union(part.ledger)
			for card, n := range part.plays {
				acc.plays[card] += n
			}
			for card, n := range part.wins {
				acc.wins[card] += n
			}
		}
	}

	for label, acc := range merged.segments {
		for id := range acc.ledger.seen {
			for _, it := range id.Items() {
				if it.Segment == label {
					acc.usage[it.ID]++
				}
			}
		}
		if err := checkUsage(label, acc, engines); err != nil {
			return nil, err
		}
	}
	return merged.Result()
}

func checkUsage(label string, acc *Accumulator, parts []*Engine) error {
	cards := make([]string, 0, len(acc.usage))
	for card := range acc.usage {
		cards = append(cards, card)
	}
	for card := range acc.plays {
		if _, ok := acc.usage[card]; !ok {
			cards = append(cards, card)
		}
	}
	sort.Strings(cards)

	for _, card := range cards {
		low, sum := 0, 0
		for _, e := range parts {
			part, ok := e.segments[label]
			if !ok {
				continue
			}
			u := part.usage[card]
			sum += u
			if u > low {
				low = u
			}
		}
		high := sum
		if p := acc.plays[card]; p < high {
			high = p
		}
		if got := acc.usage[card]; got < low || got > high {
			return &MergeInconsistencyError{Segment: label, Card: card, Merged: got, Low: low, High: high}
		}
	}
	return nil
}
