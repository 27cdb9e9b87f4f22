// Package metrics defines the Prometheus collectors for the indexing job's
// operational counters and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexing pipeline.
type Metrics struct {
	RecordsProcessed   prometheus.Counter
	IndexedOccurrences prometheus.Counter
	FailedParsing      prometheus.Counter
	TriplesTotal       *prometheus.CounterVec
	TermsMerged        *prometheus.CounterVec
	PostingsWritten    *prometheus.CounterVec
	TermsPruned        prometheus.Counter
	TasksTotal         *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	FieldIndexesClosed *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RecordsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rdx_records_processed_total",
				Help: "Documents consumed by emission tasks.",
			},
		),
		IndexedOccurrences: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rdx_indexed_occurrences_total",
				Help: "Term occurrences emitted by emission tasks.",
			},
		),
		FailedParsing: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rdx_failed_parsing_total",
				Help: "Documents skipped because upstream parsing failed.",
			},
		),
		TriplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdx_triples_total",
				Help: "Upstream triples by outcome (indexed, blacklisted, unindexed).",
			},
			[]string{"outcome"},
		),
		TermsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdx_terms_merged_total",
				Help: "Term groups merged by group type (postings, alignment, sizes).",
			},
			[]string{"group"},
		),
		PostingsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdx_postings_written_total",
				Help: "Document postings written per field.",
			},
			[]string{"field"},
		),
		TermsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rdx_terms_pruned_total",
				Help: "Terms dropped for exceeding the maximum inverted list size.",
			},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdx_tasks_total",
				Help: "Pipeline tasks by phase and status.",
			},
			[]string{"phase", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdx_task_duration_seconds",
				Help:    "Pipeline task duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"phase"},
		),
		FieldIndexesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdx_field_indexes_closed_total",
				Help: "Field indexes closed by status (ok, aborted).",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.RecordsProcessed,
		m.IndexedOccurrences,
		m.FailedParsing,
		m.TriplesTotal,
		m.TermsMerged,
		m.PostingsWritten,
		m.TermsPruned,
		m.TasksTotal,
		m.TaskDuration,
		m.FieldIndexesClosed,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
