// Package emitter implements the map phase: it turns one extracted document
// into the occurrence, statistics, size and alignment records the shuffle
// groups for the merge phase.
package emitter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/counters"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

// Collector receives emitted records.
type Collector interface {
	Collect(r occurrence.Record) error
}

// CollectorFunc adapts a function to a Collector.
type CollectorFunc func(r occurrence.Record) error

func (f CollectorFunc) Collect(r occurrence.Record) error { return f(r) }

type docStat struct {
	count int32
	last  int32
}

// Emitter is owned by one emission task. Its counters are task-local and
// are read once the task has consumed its input split.
type Emitter struct {
	fields   []string
	fieldIDs map[string]int32
	vertical bool
	// badRefPrefix guards against references produced by the upstream id
	// generator overflowing into negative ids.
	badRefPrefix string
	counters     counters.Counters
	logger       *slog.Logger
}

// New creates an Emitter for the job's field list and layout.
func New(job config.JobConfig, logger *slog.Logger) *Emitter {
	ids := make(map[string]int32, len(job.Fields))
	for i, f := range job.Fields {
		ids[f] = int32(i)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		fields:   job.Fields,
		fieldIDs: ids,
		vertical: job.Layout == config.LayoutVertical,
		logger:   logger.With("component", "emitter"),
	}
	if job.RefPrefix != "" {
		e.badRefPrefix = job.RefPrefix + "-"
	}
	return e
}

// Counters returns a copy of the task's counters.
func (e *Emitter) Counters() counters.Counters {
	return e.counters
}

// Skip records a document the upstream parser could not produce. Non
// recoverable errors are returned unchanged so the caller aborts.
func (e *Emitter) Skip(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsFatal(err) {
		return err
	}
	e.counters.FailedParsing++
	e.logger.Error("document failed parsing", "error", err)
	return nil
}

// Process emits every record of doc to out. Errors are fatal for the task.
func (e *Emitter) Process(doc document.Document, out Collector) error {
	if doc.ID < 0 {
		return apperrors.Invariant(apperrors.ErrNegativeDocID, "", "", doc.ID,
			"subject %s", doc.Subject)
	}
	if err := e.check(doc); err != nil {
		return err
	}

	for id, field := range e.fields {
		if config.Excluded(field) {
			continue
		}
		if err := e.emitField(doc.ID, int32(id), doc.Terms(field), out); err != nil {
			return fmt.Errorf("emitting field %s of document %d: %w", field, doc.ID, err)
		}
	}

	e.counters.IndexedTriples += doc.Triples.Indexed
	e.counters.BlacklistedTriples += doc.Triples.Blacklisted
	e.counters.UnindexedTriples += doc.Triples.Unindexed
	e.counters.RecordsProcessed++
	return nil
}

// check rejects documents naming unconfigured fields or carrying terms the
// upstream id generator should never have produced.
func (e *Emitter) check(doc document.Document) error {
	for field, terms := range doc.Fields {
		if _, ok := e.fieldIDs[field]; !ok {
			return apperrors.New(apperrors.ErrUnknownField, field, "", doc.ID, "field is not configured")
		}
		if config.Excluded(field) {
			continue
		}
		for i, term := range terms {
			if term == "" {
				// The empty term is reserved for the document size records.
				return apperrors.Invariant(apperrors.ErrInvariantViolation, field, term, doc.ID,
					"empty term at position %d", i)
			}
			if e.badRefPrefix != "" && strings.HasPrefix(term, e.badRefPrefix) {
				return apperrors.Invariant(apperrors.ErrInvariantViolation, field, term, doc.ID,
					"reference id looks negative; verify the upstream id generation range")
			}
		}
	}
	return nil
}

func (e *Emitter) emitField(docID int64, field int32, terms []string, out Collector) error {
	if len(terms) == 0 {
		return nil
	}
	stats := make(map[string]*docStat, len(terms))
	order := make([]string, 0, len(terms))

	for i, term := range terms {
		pos := int32(i)
		if err := out.Collect(occurrence.Occurrence(term, field, docID, pos)); err != nil {
			return err
		}
		st, seen := stats[term]
		if !seen {
			if e.vertical {
				// In a field-per-predicate layout the field id is the
				// predicate, so this records which predicates the term
				// occurs under.
				if err := out.Collect(occurrence.IndexID(term, docID, field)); err != nil {
					return err
				}
			}
			st = &docStat{}
			stats[term] = st
			order = append(order, term)
		}
		st.count++
		st.last = pos
		e.counters.IndexedOccurrences++
	}

	for _, term := range order {
		st := stats[term]
		if err := out.Collect(occurrence.Stats(term, field, docID, st.count, st.last)); err != nil {
			return err
		}
	}
	return out.Collect(occurrence.DocSize(field, docID, int32(len(terms))))
}
