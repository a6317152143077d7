// Package metrics exposes ingest counters in Prometheus format. A batch CLI
// has no scrape endpoint, so the registry is written to a node_exporter
// textfile at the end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest collects the counters of one ingest. It satisfies
// aggregator.Observer and is safe for concurrent use.
type Ingest struct {
	reg *prometheus.Registry

	RowsAccepted prometheus.Counter
	RowsSkipped  *prometheus.CounterVec
	Duration     prometheus.Histogram
	UniqueDecks  prometheus.Gauge
	Cards        *prometheus.GaugeVec
	LastSuccess  prometheus.Gauge
}

// NewIngest registers the ingest metrics on a fresh registry.
func NewIngest() *Ingest {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Ingest{
		reg: reg,
		RowsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "crstats_rows_accepted_total",
			Help: "Match rows folded into the statistics.",
		}),
		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crstats_rows_skipped_total",
			Help: "Match rows skipped, by reason.",
		}, []string{"reason"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crstats_ingest_duration_seconds",
			Help:    "Wall time of an ingest pass.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		UniqueDecks: f.NewGauge(prometheus.GaugeOpts{
			Name: "crstats_unique_decks",
			Help: "Distinct participant/deck identities in the last run.",
		}),
		Cards: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crstats_segment_cards",
			Help: "Distinct cards per segment in the last run.",
		}, []string{"segment"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "crstats_last_success_timestamp_seconds",
			Help: "Unix time of the last successful ingest.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Ingest) Registry() *prometheus.Registry { return m.reg }

func (m *Ingest) RowAccepted() { m.RowsAccepted.Inc() }

func (m *Ingest) RowSkipped(reason string) { m.RowsSkipped.WithLabelValues(reason).Inc() }

// Observe records the shape of a finished run.
func (m *Ingest) Observe(elapsed time.Duration, uniqueDecks int, cardsBySegment map[string]int) {
	m.Duration.Observe(elapsed.Seconds())
	m.UniqueDecks.Set(float64(uniqueDecks))
	for seg, n := range cardsBySegment {
		m.Cards.WithLabelValues(seg).Set(float64(n))
	}
	m.LastSuccess.SetToCurrentTime()
}

// WriteTextfile writes the registry to path atomically.
func (m *Ingest) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
