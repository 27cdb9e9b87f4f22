// Package document defines the extracted RDF document consumed by the
// emission phase: a non-negative id plus an ordered term sequence per
// configured field.
package document

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

// TripleCounts are the per-document counters reported by the extractor.
type TripleCounts struct {
	Indexed     int64 `json:"indexed,omitempty"`
	Blacklisted int64 `json:"blacklisted,omitempty"`
	Unindexed   int64 `json:"unindexed,omitempty"`
}

// Document is one subject with its terms grouped by field name.
type Document struct {
	ID      int64               `json:"id"`
	Subject string              `json:"subject"`
	Fields  map[string][]string `json:"fields"`
	Triples TripleCounts        `json:"triples"`
}

// Terms returns the ordered term sequence of a field, nil when absent.
func (d *Document) Terms(field string) []string {
	return d.Fields[field]
}

// Validate reports upstream data errors. A negative id is not checked here:
// it is an invariant violation the emitter must fail on.
func (d *Document) Validate() error {
	if d.Subject == "" {
		return fmt.Errorf("%w: document %d has no subject", apperrors.ErrMalformedDocument, d.ID)
	}
	for field, terms := range d.Fields {
		for i, term := range terms {
			if term == "" {
				return fmt.Errorf("%w: document %d field %q has an empty term at %d",
					apperrors.ErrMalformedDocument, d.ID, field, i)
			}
			if strings.ContainsAny(term, "\n\r") {
				return fmt.Errorf("%w: document %d field %q has a line break in term %d",
					apperrors.ErrMalformedDocument, d.ID, field, i)
			}
		}
	}
	return nil
}

// Decode parses one JSON-encoded document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Source yields extracted documents. Next returns io.EOF when exhausted;
// errors matching ErrMalformedDocument leave the source usable.
type Source interface {
	Next(ctx context.Context) (Document, error)
	Close() error
}

const maxLineSize = 64 << 20

// JSONLSource reads newline-delimited JSON documents.
type JSONLSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONLSource wraps r. If r is an io.Closer it is closed by Close.
func NewJSONLSource(r io.Reader) *JSONLSource {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	src := &JSONLSource{scanner: s}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

func (s *JSONLSource) Next(ctx context.Context) (Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Document{}, fmt.Errorf("%w: reading documents: %v", apperrors.ErrIO, err)
			}
			return Document{}, io.EOF
		}
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		doc, err := Decode(line)
		if err != nil {
			return Document{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return doc, nil
	}
}

func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SliceSource serves documents from memory.
type SliceSource struct {
	docs []Document
	pos  int
}

func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

func (s *SliceSource) Next(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if s.pos >= len(s.docs) {
		return Document{}, io.EOF
	}
	d := s.docs[s.pos]
	s.pos++
	return d, nil
}

func (s *SliceSource) Close() error { return nil }
