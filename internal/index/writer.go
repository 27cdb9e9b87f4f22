// Package index persists merged postings as per-field index files and reads
// them back.
//
// A field index named <field> consists of
//
//	<field>.terms       newline-delimited term dictionary in sorted order
//	<field>.index       the inverted lists, one per term, as one bit stream
//	<field>.offsets     gamma-coded bit offsets of every list
//	<field>.sizes       gamma-coded term count of every document (optional)
//	<field>.properties  key=value metadata; written last
//
// Files are written under a .tmp suffix and renamed on Close. An index
// without its .properties file is incomplete and must not be read.
package index

import (
	"bufio"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/merger"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
)

const (
	ExtTerms      = ".terms"
	ExtIndex      = ".index"
	ExtOffsets    = ".offsets"
	ExtSizes      = ".sizes"
	ExtProperties = ".properties"
	tmpSuffix     = ".tmp"

	flushBytes = 1 << 20
)

// MaxCountUnknown is recorded as maxcount; per-document maxima are not
// tracked.
const MaxCountUnknown = -1

var dataExts = []string{ExtTerms, ExtIndex, ExtOffsets, ExtSizes}

// FileName normalizes a field name for use as a file base name.
func FileName(field string) string {
	return strings.ReplaceAll(field, "-", "_")
}

// FieldOptions configures one field index.
type FieldOptions struct {
	Dir           string
	Field         string
	Params        codec.Params
	TermProcessor string
	RefPrefix     string
	// NumDocs pads the sizes file; zero derives it from the highest
	// document id seen.
	NumDocs   int64
	Overwrite bool
}

// Summary describes a closed field index.
type Summary struct {
	Field       string
	Base        string
	Terms       int64
	Documents   int64
	Occurrences int64
	Postings    int64
}

// FieldWriter writes one field index. Terms must arrive in strictly
// increasing order, each followed by exactly Frequency postings.
type FieldWriter struct {
	opts   FieldOptions
	base   string
	logger *slog.Logger

	files   map[string]*os.File
	terms   *bufio.Writer
	crc     hash.Hash32
	index   io.Writer
	out     codec.BitWriter
	offsets codec.BitWriter
	sizes   codec.BitWriter

	enc         *codec.Encoder
	open        bool
	term        string
	haveTerm    bool
	lastOffset  int64
	nextSizeDoc int64
	maxDocSize  int32

	summary Summary
	maxDoc  int64
	closed  bool
	aborted bool
}

// CreateField opens the temporary files of a field index. It fails with
// ErrOutputExists if any output file already exists, unless Overwrite is set.
func CreateField(opts FieldOptions) (*FieldWriter, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, opts.Field, "", apperrors.NoDoc, "%v", err)
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating index directory: %v", apperrors.ErrIO, err)
	}
	base := filepath.Join(opts.Dir, FileName(opts.Field))
	for _, ext := range append(dataExts, ExtProperties) {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			if !opts.Overwrite {
				return nil, apperrors.New(apperrors.ErrOutputExists, opts.Field, "", apperrors.NoDoc, path)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("%w: removing %s: %v", apperrors.ErrIO, path, err)
			}
		}
	}

	w := &FieldWriter{
		opts:   opts,
		base:   base,
		logger: logger.WithComponent("index-writer").With("field", opts.Field),
		files:  make(map[string]*os.File, len(dataExts)),
		crc:    crc32.NewIEEE(),
		enc:    codec.NewEncoder(opts.Params),
		maxDoc: -1,
		summary: Summary{
			Field: opts.Field,
			Base:  base,
		},
	}
	for _, ext := range dataExts {
		f, err := os.Create(base + ext + tmpSuffix)
		if err != nil {
			w.Abort()
			return nil, fmt.Errorf("%w: creating %s: %v", apperrors.ErrIO, base+ext, err)
		}
		w.files[ext] = f
	}
	w.terms = bufio.NewWriterSize(w.files[ExtTerms], 64*1024)
	w.index = io.MultiWriter(w.files[ExtIndex], w.crc)
	return w, nil
}

// Field returns the field name.
func (w *FieldWriter) Field() string {
	return w.opts.Field
}

func (w *FieldWriter) WriteTerm(h merger.TermHeader) error {
	if w.open {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, w.term, apperrors.NoDoc,
			"term %q started before all postings were written", h.Term)
	}
	if w.haveTerm && h.Term <= w.term {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, h.Term, apperrors.NoDoc,
			"term does not follow %q", w.term)
	}
	if h.Term == "" || strings.ContainsAny(h.Term, "\n\r") {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, h.Term, apperrors.NoDoc,
			"term cannot be stored in the dictionary")
	}
	if err := w.enc.Begin(h.Frequency); err != nil {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, h.Term, apperrors.NoDoc, "%v", err)
	}
	if _, err := w.terms.WriteString(h.Term); err != nil {
		return w.ioError("writing term", err)
	}
	if err := w.terms.WriteByte('\n'); err != nil {
		return w.ioError("writing term", err)
	}
	w.offsets.WriteGamma(uint64(w.out.Len() - w.lastOffset))
	w.lastOffset = w.out.Len()
	w.term, w.haveTerm, w.open = h.Term, true, true
	w.summary.Terms++
	return nil
}

func (w *FieldWriter) WritePosting(p merger.Posting) error {
	if !w.open {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, w.term, p.DocID,
			"posting without a term")
	}
	if err := w.enc.Add(p.DocID, p.Positions); err != nil {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, w.term, p.DocID, "%v", err)
	}
	w.summary.Postings++
	if p.DocID > w.maxDoc {
		w.maxDoc = p.DocID
	}
	if w.opts.Params.HasCounts {
		w.summary.Occurrences += int64(len(p.Positions))
	}
	return w.maybeFinishTerm()
}

func (w *FieldWriter) maybeFinishTerm() error {
	if !w.enc.Done() {
		return nil
	}
	if err := w.enc.Finish(&w.out); err != nil {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, w.term, apperrors.NoDoc, "%v", err)
	}
	w.open = false
	if len(w.out.Bytes()) >= flushBytes {
		if err := w.out.Flush(w.index); err != nil {
			return w.ioError("writing postings", err)
		}
	}
	return nil
}

// WriteSize records the term count of a document. Documents arrive in
// increasing order; gaps are documents with no terms in this field.
func (w *FieldWriter) WriteSize(docID int64, size int32) error {
	if docID < w.nextSizeDoc {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, "", docID,
			"size out of order, expected document >= %d", w.nextSizeDoc)
	}
	for ; w.nextSizeDoc < docID; w.nextSizeDoc++ {
		w.sizes.WriteGamma(0)
	}
	w.sizes.WriteGamma(uint64(size))
	w.nextSizeDoc = docID + 1
	if size > w.maxDocSize {
		w.maxDocSize = size
	}
	if docID > w.maxDoc {
		w.maxDoc = docID
	}
	return nil
}

func (w *FieldWriter) ioError(what string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", apperrors.ErrIO, what, w.base, err)
}

// Close completes the index and commits its files. On error the partial
// files are removed.
func (w *FieldWriter) Close() (Summary, error) {
	if w.aborted {
		return Summary{}, fmt.Errorf("%w: field index %s was aborted", apperrors.ErrIO, w.opts.Field)
	}
	if w.closed {
		return w.summary, nil
	}
	if err := w.commit(); err != nil {
		w.Abort()
		return Summary{}, err
	}
	w.closed = true
	w.logger.Info("field index closed",
		"terms", w.summary.Terms,
		"documents", w.summary.Documents,
		"occurrences", w.summary.Occurrences,
		"postings", w.summary.Postings,
	)
	return w.summary, nil
}

func (w *FieldWriter) commit() error {
	if w.open {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, w.opts.Field, w.term, apperrors.NoDoc,
			"index closed in the middle of an inverted list")
	}

	docs := max(w.opts.NumDocs, w.maxDoc+1)
	hasSizes := w.nextSizeDoc > 0
	if hasSizes {
		for ; w.nextSizeDoc < docs; w.nextSizeDoc++ {
			w.sizes.WriteGamma(0)
		}
	}
	w.summary.Documents = docs

	if err := w.terms.Flush(); err != nil {
		return w.ioError("writing terms", err)
	}
	indexBits := w.out.Len()
	if err := w.out.Close(w.index); err != nil {
		return w.ioError("writing postings", err)
	}
	if err := w.offsets.Close(w.files[ExtOffsets]); err != nil {
		return w.ioError("writing offsets", err)
	}
	if err := w.sizes.Close(w.files[ExtSizes]); err != nil {
		return w.ioError("writing sizes", err)
	}
	for ext, f := range w.files {
		if err := f.Sync(); err != nil {
			return w.ioError("syncing "+ext, err)
		}
		if err := f.Close(); err != nil {
			return w.ioError("closing "+ext, err)
		}
	}
	w.files = nil

	for _, ext := range dataExts {
		if ext == ExtSizes && !hasSizes {
			if err := os.Remove(w.base + ext + tmpSuffix); err != nil {
				return w.ioError("removing empty sizes", err)
			}
			continue
		}
		if err := os.Rename(w.base+ext+tmpSuffix, w.base+ext); err != nil {
			return w.ioError("renaming "+ext, err)
		}
	}

	p := w.opts.Params
	props := Properties{
		PropFormat:         formatVersion,
		PropField:          w.opts.Field,
		PropTermProcessor:  w.opts.TermProcessor,
		PropTerms:          strconv.FormatInt(w.summary.Terms, 10),
		PropDocuments:      strconv.FormatInt(docs, 10),
		PropOccurrences:    strconv.FormatInt(w.summary.Occurrences, 10),
		PropPostings:       strconv.FormatInt(w.summary.Postings, 10),
		PropMaxCount:       strconv.Itoa(MaxCountUnknown),
		PropFrequencyCode:  p.Frequencies.String(),
		PropPointerCoding:  p.Pointers.String(),
		PropCountCoding:    p.Counts.String(),
		PropPositionCoding: p.Positions.String(),
		PropHasCounts:      strconv.FormatBool(p.HasCounts),
		PropHasPositions:   strconv.FormatBool(p.HasPositions),
		PropSkipQuantum:    strconv.Itoa(p.Quantum),
		PropSkipHeight:     strconv.Itoa(p.Height),
		PropIndexBits:      strconv.FormatInt(indexBits, 10),
		PropIndexCRC:       strconv.FormatUint(uint64(w.crc.Sum32()), 10),
		PropSizes:          strconv.FormatBool(hasSizes),
	}
	if w.opts.RefPrefix != "" {
		props[PropRefPrefix] = w.opts.RefPrefix
	}
	if hasSizes {
		props[PropMaxDocSize] = strconv.Itoa(int(w.maxDocSize))
	}
	return writePropertiesFile(w.base+ExtProperties, props)
}

var propertyOrder = []string{
	PropFormat, PropField, PropTermProcessor, PropRefPrefix,
	PropTerms, PropDocuments, PropOccurrences, PropPostings, PropMaxCount, PropMaxDocSize,
	PropFrequencyCode, PropPointerCoding, PropCountCoding, PropPositionCoding,
	PropHasCounts, PropHasPositions, PropSkipQuantum, PropSkipHeight,
	PropIndexBits, PropIndexCRC, PropSizes,
}

func writePropertiesFile(path string, props Properties) error {
	tmp := path + tmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", apperrors.ErrIO, path, err)
	}
	if err := props.write(f, propertyOrder); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: writing %s: %v", apperrors.ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: syncing %s: %v", apperrors.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", apperrors.ErrIO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: renaming %s: %v", apperrors.ErrIO, path, err)
	}
	return nil
}

// Abort closes and removes every file of an unfinished index, including
// data files already renamed, so that no partial index remains.
func (w *FieldWriter) Abort() {
	if w.closed {
		return
	}
	for _, f := range w.files {
		f.Close()
	}
	w.files = nil
	for _, ext := range append(dataExts, ExtProperties) {
		os.Remove(w.base + ext + tmpSuffix)
		os.Remove(w.base + ext)
	}
	w.closed = true
	w.aborted = true
	w.logger.Warn("field index aborted")
}
