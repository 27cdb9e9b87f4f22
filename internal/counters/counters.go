// Package counters holds the operational counters of one pipeline task and
// the sinks that publish them once the task completes.
package counters

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/metrics"
)

// Counter names as exposed to sinks.
const (
	RecordsProcessed   = "records_processed"
	IndexedOccurrences = "indexed_occurrences"
	FailedParsing      = "failed_parsing"
	IndexedTriples     = "indexed_triples"
	BlacklistedTriples = "blacklisted_triples"
	UnindexedTriples   = "unindexed_predicate_triples"
	PostingsTerms      = "postings_terms"
	AlignmentTerms     = "alignment_terms"
	SizeGroups         = "size_groups"
	DocumentPostings   = "document_postings"
	TermsPruned        = "terms_pruned"
)

// Counters is owned by a single task and is not safe for concurrent use.
// Tasks merge their counters with Add after they finish.
type Counters struct {
	RecordsProcessed   int64
	IndexedOccurrences int64
	FailedParsing      int64
	IndexedTriples     int64
	BlacklistedTriples int64
	UnindexedTriples   int64

	PostingsTerms    int64
	AlignmentTerms   int64
	SizeGroups       int64
	DocumentPostings int64
	TermsPruned      int64
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.RecordsProcessed += o.RecordsProcessed
	c.IndexedOccurrences += o.IndexedOccurrences
	c.FailedParsing += o.FailedParsing
	c.IndexedTriples += o.IndexedTriples
	c.BlacklistedTriples += o.BlacklistedTriples
	c.UnindexedTriples += o.UnindexedTriples
	c.PostingsTerms += o.PostingsTerms
	c.AlignmentTerms += o.AlignmentTerms
	c.SizeGroups += o.SizeGroups
	c.DocumentPostings += o.DocumentPostings
	c.TermsPruned += o.TermsPruned
}

// Snapshot returns the counters keyed by name.
func (c Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		RecordsProcessed:   c.RecordsProcessed,
		IndexedOccurrences: c.IndexedOccurrences,
		FailedParsing:      c.FailedParsing,
		IndexedTriples:     c.IndexedTriples,
		BlacklistedTriples: c.BlacklistedTriples,
		UnindexedTriples:   c.UnindexedTriples,
		PostingsTerms:      c.PostingsTerms,
		AlignmentTerms:     c.AlignmentTerms,
		SizeGroups:         c.SizeGroups,
		DocumentPostings:   c.DocumentPostings,
		TermsPruned:        c.TermsPruned,
	}
}

// LogAttrs renders the non-zero counters as slog attributes.
func (c Counters) LogAttrs() []any {
	var attrs []any
	for name, v := range c.Snapshot() {
		if v != 0 {
			attrs = append(attrs, slog.Int64(name, v))
		}
	}
	return attrs
}

// Sink publishes the counters of a finished task.
type Sink interface {
	Publish(ctx context.Context, taskID string, c Counters) error
}

// PrometheusSink adds task counters to the process's Prometheus collectors.
type PrometheusSink struct {
	m *metrics.Metrics
}

func NewPrometheusSink(m *metrics.Metrics) *PrometheusSink {
	return &PrometheusSink{m: m}
}

func (s *PrometheusSink) Publish(_ context.Context, _ string, c Counters) error {
	s.m.RecordsProcessed.Add(float64(c.RecordsProcessed))
	s.m.IndexedOccurrences.Add(float64(c.IndexedOccurrences))
	s.m.FailedParsing.Add(float64(c.FailedParsing))
	s.m.TriplesTotal.WithLabelValues("indexed").Add(float64(c.IndexedTriples))
	s.m.TriplesTotal.WithLabelValues("blacklisted").Add(float64(c.BlacklistedTriples))
	s.m.TriplesTotal.WithLabelValues("unindexed").Add(float64(c.UnindexedTriples))
	s.m.TermsMerged.WithLabelValues("postings").Add(float64(c.PostingsTerms))
	s.m.TermsMerged.WithLabelValues("alignment").Add(float64(c.AlignmentTerms))
	s.m.TermsMerged.WithLabelValues("sizes").Add(float64(c.SizeGroups))
	s.m.TermsPruned.Add(float64(c.TermsPruned))
	return nil
}

// HashStore is the subset of the Redis client the RedisSink needs.
type HashStore interface {
	IncrementHash(ctx context.Context, key string, deltas map[string]int64) error
	ReadHash(ctx context.Context, key string) (map[string]int64, error)
}

// Totaler is implemented by sinks that can read back what every task of
// the job has published so far.
type Totaler interface {
	Totals(ctx context.Context) (map[string]int64, error)
}

// RedisSink aggregates counters of all tasks of a job into one hash, so the
// job total is available while tasks on other machines are still running.
type RedisSink struct {
	client HashStore
	jobID  string
}

func NewRedisSink(client HashStore, jobID string) *RedisSink {
	return &RedisSink{client: client, jobID: jobID}
}

// Key returns the hash key holding the job's counters.
func (s *RedisSink) Key() string {
	return "rdx:job:" + s.jobID + ":counters"
}

func (s *RedisSink) Publish(ctx context.Context, taskID string, c Counters) error {
	deltas := c.Snapshot()
	deltas["tasks_completed"] = 1
	if err := s.client.IncrementHash(ctx, s.Key(), deltas); err != nil {
		return fmt.Errorf("publishing counters of task %s: %w", taskID, err)
	}
	return nil
}

// Totals returns the job-wide sums, including tasks_completed.
func (s *RedisSink) Totals(ctx context.Context) (map[string]int64, error) {
	totals, err := s.client.ReadHash(ctx, s.Key())
	if err != nil {
		return nil, fmt.Errorf("reading counters of job %s: %w", s.jobID, err)
	}
	return totals, nil
}

// MultiSink publishes to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, taskID string, c Counters) error {
	var firstErr error
	for i, s := range m {
		if err := s.Publish(ctx, taskID, c); err != nil {
			logger.WithComponent("counters").Error("counter sink failed",
				"sink", strconv.Itoa(i),
				"task_id", taskID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Totals reads from the first sink that keeps job-wide totals. It returns
// nil without error when none does.
func (m MultiSink) Totals(ctx context.Context) (map[string]int64, error) {
	for _, s := range m {
		if t, ok := s.(Totaler); ok {
			return t.Totals(ctx)
		}
	}
	return nil, nil
}
