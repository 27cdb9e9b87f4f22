// Package merger implements the reduce side of the pipeline. A Merger reads
// the grouped, totally ordered record stream of one merge task and turns each
// (term, field) group into a term header followed by its document postings,
// each alignment group into a field-id list, and each size group into
// per-document sizes.
package merger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/counters"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

// TermHeader is written once per (term, field) before its postings. For the
// alignment field Frequency is the number of distinct fields and the other
// totals are zero.
type TermHeader struct {
	Term             string
	Frequency        int64
	Occurrences      int64
	SumLastPositions int64
}

// Posting is one document of a term's inverted list. Positions is only valid
// until the next call into the Sink.
type Posting struct {
	DocID     int64
	Positions []int32
}

// Sink receives the merged output. Calls for one field arrive in term order:
// WriteTerm, then exactly Frequency WritePosting calls with strictly
// increasing document ids.
type Sink interface {
	WriteTerm(field int32, h TermHeader) error
	WritePosting(field int32, p Posting) error
	WriteSize(field int32, docID int64, size int32) error
}

// Values iterates the records of one group. ok is false at the end.
type Values interface {
	Next() (rec occurrence.Record, ok bool, err error)
}

// GroupSource yields consecutive groups of a merge task's input.
type GroupSource interface {
	Values
	NextGroup() (key occurrence.GroupKey, ok bool, err error)
}

type Options struct {
	// Fields names the configured field ids, used to validate ids and to
	// label errors.
	Fields []string
	// MaxInvertedListSize prunes terms found in more documents. Zero
	// disables pruning.
	MaxInvertedListSize int
	// MaxPositionListSize is the initial capacity of a document's position
	// buffer.
	MaxPositionListSize int
	// StatusEvery logs progress after that many groups. Zero disables it.
	StatusEvery int
}

// Merger is owned by one merge task.
type Merger struct {
	opts     Options
	sink     Sink
	logger   *slog.Logger
	counters counters.Counters
	groups   int64

	positions []int32
	fieldIDs  []int32
}

func New(opts Options, sink Sink, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.MaxPositionListSize
	if capacity <= 0 {
		capacity = 64
	}
	return &Merger{
		opts:      opts,
		sink:      sink,
		logger:    logger.With("component", "merger"),
		positions: make([]int32, 0, capacity),
	}
}

// Counters returns the task's merge counters.
func (m *Merger) Counters() counters.Counters {
	return m.counters
}

// Groups returns the number of groups merged so far.
func (m *Merger) Groups() int64 {
	return m.groups
}

// MergeAll merges every group of src.
func (m *Merger) MergeAll(ctx context.Context, src GroupSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok, err := src.NextGroup()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := m.Merge(key, src); err != nil {
			return err
		}
	}
}

// Merge consumes one group entirely.
func (m *Merger) Merge(key occurrence.GroupKey, values Values) error {
	s := &stream{values: values, key: key, field: m.fieldName(key.Field)}
	if key.Field != occurrence.AlignmentField && (key.Field < 0 || int(key.Field) >= len(m.opts.Fields)) {
		return apperrors.Invariant(apperrors.ErrUnknownField, s.field, key.Term, apperrors.NoDoc,
			"field id %d outside the %d configured fields", key.Field, len(m.opts.Fields))
	}
	first, ok, err := s.next()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	switch {
	case key.Field == occurrence.AlignmentField:
		err = m.mergeAlignment(s, first)
	case key.Term == occurrence.DocSizeTerm:
		err = m.mergeSizes(s, first)
	default:
		err = m.mergePostings(s, first)
	}
	if err != nil {
		return err
	}

	m.groups++
	if m.opts.StatusEvery > 0 && m.groups%int64(m.opts.StatusEvery) == 0 {
		m.logger.Info("merge progress",
			"groups", m.groups,
			"term", key.Term,
			"field", s.field,
			"postings_terms", m.counters.PostingsTerms,
		)
	}
	return nil
}

func (m *Merger) fieldName(id int32) string {
	if id == occurrence.AlignmentField {
		return "alignment"
	}
	if id >= 0 && int(id) < len(m.opts.Fields) {
		return m.opts.Fields[id]
	}
	return fmt.Sprintf("field#%d", id)
}

// stream wraps a group's values with the checks every merge path shares:
// document ids are non-negative, records are in key order, and no record
// repeats.
type stream struct {
	values  Values
	key     occurrence.GroupKey
	field   string
	prev    occurrence.Record
	started bool
}

func (s *stream) next() (occurrence.Record, bool, error) {
	rec, ok, err := s.values.Next()
	if err != nil || !ok {
		return rec, ok, err
	}
	if rec.DocID < 0 {
		return rec, false, apperrors.Invariant(apperrors.ErrNegativeDocID, s.field, s.key.Term, rec.DocID,
			"in %s record", rec.Kind)
	}
	if s.started {
		switch c := occurrence.Compare(s.prev, rec); {
		case c == 0:
			return rec, false, apperrors.Invariant(apperrors.ErrDuplicateRecord, s.field, s.key.Term, rec.DocID,
				"%s repeated", rec)
		case rec.Kind < s.prev.Kind:
			return rec, false, apperrors.Invariant(apperrors.ErrUnexpectedKind, s.field, s.key.Term, rec.DocID,
				"%s after %s", rec.Kind, s.prev.Kind)
		case c > 0:
			return rec, false, apperrors.Invariant(apperrors.ErrInvariantViolation, s.field, s.key.Term, rec.DocID,
				"%s sorted after %s", rec, s.prev)
		}
	}
	s.prev = rec
	s.started = true
	return rec, true, nil
}

func (s *stream) unexpected(rec occurrence.Record, want occurrence.Kind) error {
	return apperrors.Invariant(apperrors.ErrUnexpectedKind, s.field, s.key.Term, rec.DocID,
		"got %s when expecting only %s", rec.Kind, want)
}

func (s *stream) drain() error {
	for {
		_, ok, err := s.next()
		if err != nil || !ok {
			return err
		}
	}
}

func (m *Merger) mergeAlignment(s *stream, rec occurrence.Record) error {
	fields := m.fieldIDs[:0]
	for ok := true; ok; {
		if rec.Kind != occurrence.KindIndexID {
			return s.unexpected(rec, occurrence.KindIndexID)
		}
		f := rec.MemberField()
		if f < 0 || int(f) >= len(m.opts.Fields) {
			return apperrors.Invariant(apperrors.ErrUnknownField, s.field, s.key.Term, rec.DocID,
				"alignment entry names field id %d", f)
		}
		if len(fields) == 0 || fields[len(fields)-1] != f {
			fields = append(fields, f)
		}
		var err error
		if rec, ok, err = s.next(); err != nil {
			return err
		}
	}
	m.fieldIDs = fields

	h := TermHeader{Term: s.key.Term, Frequency: int64(len(fields))}
	if err := m.sink.WriteTerm(occurrence.AlignmentField, h); err != nil {
		return err
	}
	for _, f := range fields {
		if err := m.sink.WritePosting(occurrence.AlignmentField, Posting{DocID: int64(f)}); err != nil {
			return err
		}
	}
	m.counters.AlignmentTerms++
	return nil
}

func (m *Merger) mergeSizes(s *stream, rec occurrence.Record) error {
	lastDoc := int64(-1)
	for ok := true; ok; {
		if rec.Kind != occurrence.KindDocSize {
			return s.unexpected(rec, occurrence.KindDocSize)
		}
		if rec.DocID == lastDoc {
			return apperrors.Invariant(apperrors.ErrDuplicateRecord, s.field, s.key.Term, rec.DocID,
				"two sizes for one document")
		}
		lastDoc = rec.DocID
		if err := m.sink.WriteSize(s.key.Field, rec.DocID, rec.Size()); err != nil {
			return err
		}
		var err error
		if rec, ok, err = s.next(); err != nil {
			return err
		}
	}
	m.counters.SizeGroups++
	return nil
}

func (m *Merger) pruned(h TermHeader) bool {
	return m.opts.MaxInvertedListSize > 0 && h.Frequency > int64(m.opts.MaxInvertedListSize)
}
