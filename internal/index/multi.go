package index

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/merger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
)

// AlignmentName is the index name of the synthetic alignment field.
const AlignmentName = "alignment"

// WriterOptions configures the field indexes of one merge task.
type WriterOptions struct {
	Dir           string
	Fields        []string
	Params        codec.Params
	Alignment     bool
	TermProcessor string
	RefPrefix     string
	NumDocs       int64
	Overwrite     bool
}

// Writer routes merged output to one FieldWriter per field. It implements
// merger.Sink.
type Writer struct {
	fields    []*FieldWriter
	alignment *FieldWriter
	logger    *slog.Logger
}

var _ merger.Sink = (*Writer)(nil)

// NewWriter creates every field index up front so that an existing output
// is reported before any work is done.
func NewWriter(opts WriterOptions) (*Writer, error) {
	w := &Writer{
		fields: make([]*FieldWriter, len(opts.Fields)),
		logger: logger.WithComponent("index-writer").With("dir", opts.Dir),
	}
	for i, name := range opts.Fields {
		if config.Excluded(name) {
			continue
		}
		fw, err := CreateField(FieldOptions{
			Dir:           opts.Dir,
			Field:         name,
			Params:        opts.Params,
			TermProcessor: opts.TermProcessor,
			RefPrefix:     opts.RefPrefix,
			NumDocs:       opts.NumDocs,
			Overwrite:     opts.Overwrite,
		})
		if err != nil {
			w.Abort()
			return nil, err
		}
		w.fields[i] = fw
	}
	if opts.Alignment {
		params := opts.Params
		params.HasCounts = false
		params.HasPositions = false
		fw, err := CreateField(FieldOptions{
			Dir:           opts.Dir,
			Field:         AlignmentName,
			Params:        params,
			TermProcessor: opts.TermProcessor,
			RefPrefix:     opts.RefPrefix,
			NumDocs:       int64(len(opts.Fields)),
			Overwrite:     opts.Overwrite,
		})
		if err != nil {
			w.Abort()
			return nil, err
		}
		w.alignment = fw
	}
	return w, nil
}

func (w *Writer) field(id int32) (*FieldWriter, error) {
	if id == occurrence.AlignmentField {
		if w.alignment == nil {
			return nil, apperrors.Invariant(apperrors.ErrUnknownField, AlignmentName, "", apperrors.NoDoc,
				"alignment output in a layout without alignment")
		}
		return w.alignment, nil
	}
	if id < 0 || int(id) >= len(w.fields) {
		return nil, apperrors.Invariant(apperrors.ErrUnknownField, fmt.Sprintf("field#%d", id), "", apperrors.NoDoc,
			"no index for field id")
	}
	if w.fields[id] == nil {
		return nil, apperrors.Invariant(apperrors.ErrUnknownField, "", "", apperrors.NoDoc,
			"field id %d is excluded from indexing", id)
	}
	return w.fields[id], nil
}

func (w *Writer) WriteTerm(field int32, h merger.TermHeader) error {
	fw, err := w.field(field)
	if err != nil {
		return err
	}
	return fw.WriteTerm(h)
}

func (w *Writer) WritePosting(field int32, p merger.Posting) error {
	fw, err := w.field(field)
	if err != nil {
		return err
	}
	return fw.WritePosting(p)
}

func (w *Writer) WriteSize(field int32, docID int64, size int32) error {
	if field == occurrence.AlignmentField {
		return apperrors.Invariant(apperrors.ErrUnexpectedKind, AlignmentName, "", docID,
			"document size for the alignment field")
	}
	fw, err := w.field(field)
	if err != nil {
		return err
	}
	return fw.WriteSize(docID, size)
}

// Close closes every field index. After the first failure the remaining
// indexes are aborted and already closed ones are kept.
func (w *Writer) Close() ([]Summary, error) {
	all := w.all()
	summaries := make([]Summary, 0, len(all))
	for i, fw := range all {
		s, err := fw.Close()
		if err != nil {
			for _, rest := range all[i+1:] {
				rest.Abort()
			}
			return summaries, fmt.Errorf("closing field index %s: %w", fw.Field(), err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Abort removes every field index that is not closed yet.
func (w *Writer) Abort() {
	for _, fw := range w.all() {
		fw.Abort()
	}
}

func (w *Writer) all() []*FieldWriter {
	out := make([]*FieldWriter, 0, len(w.fields)+1)
	for _, fw := range w.fields {
		if fw != nil {
			out = append(out, fw)
		}
	}
	if w.alignment != nil {
		out = append(out, w.alignment)
	}
	return out
}
