package emitter

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

type recorder struct {
	records []occurrence.Record
}

func (r *recorder) Collect(rec occurrence.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) ofKind(k occurrence.Kind) []occurrence.Record {
	var out []occurrence.Record
	for _, rec := range r.records {
		if rec.Kind == k {
			out = append(out, rec)
		}
	}
	return out
}

func job(layout string, fields ...string) config.JobConfig {
	j := config.Default().Job
	j.Layout = layout
	j.Fields = fields
	return j
}

func doc(id int64, fields map[string][]string) document.Document {
	return document.Document{ID: id, Subject: "http://subject/", Fields: fields}
}

func sameRecords(t *testing.T, got, want []occurrence.Record) {
	t.Helper()
	got = slices.Clone(got)
	want = slices.Clone(want)
	slices.SortFunc(got, occurrence.Compare)
	slices.SortFunc(want, occurrence.Compare)
	if !slices.Equal(got, want) {
		t.Errorf("records mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestHorizontalSingleField(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject"), nil)
	rec := &recorder{}
	if err := e.Process(doc(10, map[string][]string{"subject": {"subject", "field", "value"}}), rec); err != nil {
		t.Fatalf("Process: %v", err)
	}
	sameRecords(t, rec.ofKind(occurrence.KindOccurrence), []occurrence.Record{
		occurrence.Occurrence("subject", 0, 10, 0),
		occurrence.Occurrence("field", 0, 10, 1),
		occurrence.Occurrence("value", 0, 10, 2),
	})
	sameRecords(t, rec.ofKind(occurrence.KindStats), []occurrence.Record{
		occurrence.Stats("subject", 0, 10, 1, 0),
		occurrence.Stats("field", 0, 10, 1, 1),
		occurrence.Stats("value", 0, 10, 1, 2),
	})
	sameRecords(t, rec.ofKind(occurrence.KindDocSize), []occurrence.Record{
		occurrence.DocSize(0, 10, 3),
	})
	if n := len(rec.ofKind(occurrence.KindIndexID)); n != 0 {
		t.Errorf("horizontal layout emitted %d alignment records", n)
	}
}

func TestHorizontalAllFields(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject", "subjectText", "object", "predicate", "context"), nil)
	rec := &recorder{}
	err := e.Process(doc(10, map[string][]string{
		"subject":     {"subject", "field", "value"},
		"subjectText": {"subjectText", "field", "value", "value"},
		"object":      {"o1", "o2", "o3"},
		"predicate":   {"p1", "p2", "p2"},
		"context":     {"c1", "c1", "c1"},
	}), rec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	sameRecords(t, rec.ofKind(occurrence.KindStats), []occurrence.Record{
		occurrence.Stats("subject", 0, 10, 1, 0),
		occurrence.Stats("field", 0, 10, 1, 1),
		occurrence.Stats("value", 0, 10, 1, 2),
		occurrence.Stats("subjectText", 1, 10, 1, 0),
		occurrence.Stats("field", 1, 10, 1, 1),
		occurrence.Stats("value", 1, 10, 2, 3),
		occurrence.Stats("o1", 2, 10, 1, 0),
		occurrence.Stats("o2", 2, 10, 1, 1),
		occurrence.Stats("o3", 2, 10, 1, 2),
		occurrence.Stats("p1", 3, 10, 1, 0),
		occurrence.Stats("p2", 3, 10, 2, 2),
		occurrence.Stats("c1", 4, 10, 3, 2),
	})
	sameRecords(t, rec.ofKind(occurrence.KindDocSize), []occurrence.Record{
		occurrence.DocSize(0, 10, 3),
		occurrence.DocSize(1, 10, 4),
		occurrence.DocSize(2, 10, 3),
		occurrence.DocSize(3, 10, 3),
		occurrence.DocSize(4, 10, 3),
	})
	c := e.Counters()
	if c.RecordsProcessed != 1 || c.IndexedOccurrences != 16 {
		t.Errorf("counters = %+v", c)
	}
	if got := len(rec.ofKind(occurrence.KindOccurrence)); got != 16 {
		t.Errorf("expected 16 occurrences, got %d", got)
	}
}

func TestVertical(t *testing.T) {
	e := New(job(config.LayoutVertical, "fieldZero", "fieldOne", "fieldTwo"), nil)
	rec := &recorder{}
	err := e.Process(doc(10, map[string][]string{
		"fieldZero": {"a", "literal", "b"},
		"fieldOne":  {"X", "Y", "X"},
		"fieldTwo":  {"Y", "Y", "Z", "Z", "Z"},
	}), rec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	var fieldOne []occurrence.Record
	for _, r := range rec.records {
		if r.Field == 1 && r.Kind == occurrence.KindOccurrence {
			fieldOne = append(fieldOne, r)
		}
	}
	want := []occurrence.Record{
		occurrence.Occurrence("X", 1, 10, 0),
		occurrence.Occurrence("Y", 1, 10, 1),
		occurrence.Occurrence("X", 1, 10, 2),
	}
	if !slices.Equal(fieldOne, want) {
		t.Errorf("fieldOne occurrences in emission order\n got: %v\nwant: %v", fieldOne, want)
	}

	sameRecords(t, rec.ofKind(occurrence.KindStats), []occurrence.Record{
		occurrence.Stats("a", 0, 10, 1, 0),
		occurrence.Stats("literal", 0, 10, 1, 1),
		occurrence.Stats("b", 0, 10, 1, 2),
		occurrence.Stats("X", 1, 10, 2, 2),
		occurrence.Stats("Y", 1, 10, 1, 1),
		occurrence.Stats("Y", 2, 10, 2, 1),
		occurrence.Stats("Z", 2, 10, 3, 4),
	})
	sameRecords(t, rec.ofKind(occurrence.KindIndexID), []occurrence.Record{
		occurrence.IndexID("a", 10, 0),
		occurrence.IndexID("literal", 10, 0),
		occurrence.IndexID("b", 10, 0),
		occurrence.IndexID("X", 10, 1),
		occurrence.IndexID("Y", 10, 1),
		occurrence.IndexID("Y", 10, 2),
		occurrence.IndexID("Z", 10, 2),
	})
	if c := e.Counters(); c.IndexedOccurrences != 11 {
		t.Errorf("indexed occurrences = %d", c.IndexedOccurrences)
	}
}

func TestEmptyFieldEmitsNothing(t *testing.T) {
	e := New(job(config.LayoutVertical, "fieldZero", "fieldOne"), nil)
	rec := &recorder{}
	if err := e.Process(doc(5, map[string][]string{"fieldZero": {}}), rec); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(rec.records) != 0 {
		t.Errorf("expected no records, got %v", rec.records)
	}
	if c := e.Counters(); c.RecordsProcessed != 1 {
		t.Errorf("records processed = %d", c.RecordsProcessed)
	}
}

func TestExcludedFieldSkipped(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject", "NOINDEXcomment"), nil)
	rec := &recorder{}
	err := e.Process(doc(1, map[string][]string{
		"subject":        {"s"},
		"NOINDEXcomment": {"ignored", "words"},
	}), rec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, r := range rec.records {
		if r.Field == 1 {
			t.Fatalf("excluded field emitted %v", r)
		}
	}
}

func TestNegativeDocIDIsFatal(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject"), nil)
	rec := &recorder{}
	err := e.Process(doc(-1, map[string][]string{"subject": {"x"}}), rec)
	if !errors.Is(err, apperrors.ErrNegativeDocID) || !apperrors.IsFatal(err) {
		t.Fatalf("expected fatal ErrNegativeDocID, got %v", err)
	}
	if len(rec.records) != 0 {
		t.Errorf("negative document must not emit records")
	}
}

func TestUnknownFieldIsFatal(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject"), nil)
	err := e.Process(doc(1, map[string][]string{"mystery": {"x"}}), &recorder{})
	if !errors.Is(err, apperrors.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestNegativeReferenceTermRejected(t *testing.T) {
	e := New(job(config.LayoutVertical, "type"), nil)
	err := e.Process(doc(1, map[string][]string{"type": {"@12", "@-4"}}), &recorder{})
	if !errors.Is(err, apperrors.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestSkipCountsOnlyMalformed(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject"), nil)
	if err := e.Skip(fmt.Errorf("line 3: %w", apperrors.ErrMalformedDocument)); err != nil {
		t.Fatalf("Skip returned %v", err)
	}
	other := errors.New("disk gone")
	if err := e.Skip(other); !errors.Is(err, other) {
		t.Fatalf("Skip must return non-parse errors, got %v", err)
	}
	invariant := apperrors.Invariant(apperrors.ErrInvariantViolation, "subject", "", 1, "empty term")
	if err := e.Skip(invariant); !errors.Is(err, apperrors.ErrInvariantViolation) {
		t.Fatalf("Skip must return invariant violations, got %v", err)
	}
	if err := e.Skip(nil); err != nil {
		t.Fatalf("Skip(nil) = %v", err)
	}
	if c := e.Counters(); c.FailedParsing != 1 {
		t.Errorf("failed parsing = %d", c.FailedParsing)
	}
}

func TestExcludedFieldMayHoldNegativeReference(t *testing.T) {
	e := New(job(config.LayoutVertical, "type", "NOINDEXraw"), nil)
	rec := &recorder{}
	err := e.Process(doc(1, map[string][]string{
		"type":       {"@12"},
		"NOINDEXraw": {"@-4", ""},
	}), rec)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(rec.ofKind(occurrence.KindOccurrence)) != 1 {
		t.Errorf("expected only the type occurrence, got %v", rec.records)
	}
}

func TestEmptyTermRejected(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject", "object"), nil)
	rec := &recorder{}
	err := e.Process(doc(9, map[string][]string{
		"subject": {"s"},
		"object":  {"a", ""},
	}), rec)
	if !errors.Is(err, apperrors.ErrInvariantViolation) || !apperrors.IsFatal(err) {
		t.Fatalf("expected fatal invariant violation, got %v", err)
	}
	var ie *apperrors.IndexError
	if !errors.As(err, &ie) || ie.Field != "object" || ie.DocID != 9 {
		t.Errorf("error does not name the field and document: %v", err)
	}
	if len(rec.records) != 0 {
		t.Errorf("rejected document emitted %d records", len(rec.records))
	}
}

func TestCollectorErrorStopsEmission(t *testing.T) {
	e := New(job(config.LayoutHorizontal, "subject"), nil)
	boom := errors.New("sink full")
	calls := 0
	err := e.Process(doc(1, map[string][]string{"subject": {"a", "b"}}), CollectorFunc(func(occurrence.Record) error {
		calls++
		return boom
	}))
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
