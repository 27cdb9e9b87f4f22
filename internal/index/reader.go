package index

import (
	"cmp"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/codec"
)

// ErrIncomplete is returned for an index whose properties file is missing.
var ErrIncomplete = errors.New("index is incomplete")

// FieldReader holds one field index in memory.
type FieldReader struct {
	name    string
	props   Properties
	params  codec.Params
	terms   []string
	offsets []int64
	data    []byte
	sizes   []int32
}

// OpenField loads the index of field from dir.
func OpenField(dir, field string) (*FieldReader, error) {
	base := filepath.Join(dir, FileName(field))
	props, err := ReadProperties(base + ExtProperties)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no %s file", ErrIncomplete, base, ExtProperties)
	}
	if err != nil {
		return nil, fmt.Errorf("reading properties of %s: %w", field, err)
	}
	if props[PropFormat] != formatVersion {
		return nil, fmt.Errorf("%s: unsupported format %q", base, props[PropFormat])
	}
	params, err := paramsFrom(props)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	r := &FieldReader{name: props[PropField], props: props, params: params}

	termData, err := os.ReadFile(base + ExtTerms)
	if err != nil {
		return nil, fmt.Errorf("reading terms of %s: %w", field, err)
	}
	if len(termData) > 0 {
		r.terms = strings.Split(strings.TrimSuffix(string(termData), "\n"), "\n")
	}
	if n, err := props.Int(PropTerms); err != nil || n != int64(len(r.terms)) {
		return nil, fmt.Errorf("%s: dictionary holds %d terms, properties say %s", base, len(r.terms), props[PropTerms])
	}

	if r.data, err = os.ReadFile(base + ExtIndex); err != nil {
		return nil, fmt.Errorf("reading postings of %s: %w", field, err)
	}
	if want := props[PropIndexCRC]; want != "" && want != fmt.Sprint(crc32.ChecksumIEEE(r.data)) {
		return nil, fmt.Errorf("%s: postings checksum mismatch", base)
	}

	offsetData, err := os.ReadFile(base + ExtOffsets)
	if err != nil {
		return nil, fmt.Errorf("reading offsets of %s: %w", field, err)
	}
	br := codec.NewBitReader(offsetData)
	r.offsets = make([]int64, len(r.terms))
	var off int64
	for i := range r.terms {
		d, err := br.ReadGamma()
		if err != nil {
			return nil, fmt.Errorf("%s: offset of term %d: %w", base, i, err)
		}
		off += int64(d)
		r.offsets[i] = off
	}

	if props.Bool(PropSizes) {
		docs, err := props.Int(PropDocuments)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", base, err)
		}
		sizeData, err := os.ReadFile(base + ExtSizes)
		if err != nil {
			return nil, fmt.Errorf("reading sizes of %s: %w", field, err)
		}
		sr := codec.NewBitReader(sizeData)
		r.sizes = make([]int32, docs)
		for i := range r.sizes {
			v, err := sr.ReadGamma()
			if err != nil {
				return nil, fmt.Errorf("%s: size of document %d: %w", base, i, err)
			}
			r.sizes[i] = int32(v)
		}
	}
	return r, nil
}

func paramsFrom(props Properties) (codec.Params, error) {
	var p codec.Params
	var err error
	for key, dst := range map[string]*codec.Coding{
		PropFrequencyCode:  &p.Frequencies,
		PropPointerCoding:  &p.Pointers,
		PropCountCoding:    &p.Counts,
		PropPositionCoding: &p.Positions,
	} {
		if *dst, err = codec.ParseCoding(props[key]); err != nil {
			return p, fmt.Errorf("property %s: %w", key, err)
		}
	}
	p.HasCounts = props.Bool(PropHasCounts)
	p.HasPositions = props.Bool(PropHasPositions)
	q, err := props.Int(PropSkipQuantum)
	if err != nil {
		return p, err
	}
	h, err := props.Int(PropSkipHeight)
	if err != nil {
		return p, err
	}
	p.Quantum, p.Height = int(q), int(h)
	return p, p.Validate()
}

func (r *FieldReader) Name() string { return r.name }

func (r *FieldReader) Properties() Properties { return r.props }

func (r *FieldReader) Params() codec.Params { return r.params }

// Terms returns the dictionary in sorted order.
func (r *FieldReader) Terms() []string { return r.terms }

// Lookup returns the dictionary index of term.
func (r *FieldReader) Lookup(term string) (int, bool) {
	i := sort.SearchStrings(r.terms, term)
	return i, i < len(r.terms) && r.terms[i] == term
}

// Postings returns an iterator over the inverted list of term, or nil if
// the term is not in the dictionary.
func (r *FieldReader) Postings(term string) (*codec.ListReader, error) {
	i, ok := r.Lookup(term)
	if !ok {
		return nil, nil
	}
	return r.PostingsAt(i)
}

// PostingsAt returns the inverted list of the i-th term.
func (r *FieldReader) PostingsAt(i int) (*codec.ListReader, error) {
	l, err := codec.NewListReader(r.data, r.offsets[i], r.params)
	if err != nil {
		return nil, fmt.Errorf("field %s term %q: %w", r.name, r.terms[i], err)
	}
	return l, nil
}

// Size returns the number of terms of docID in this field.
func (r *FieldReader) Size(docID int64) int32 {
	if docID < 0 || docID >= int64(len(r.sizes)) {
		return 0
	}
	return r.sizes[docID]
}

// DocSet returns the documents containing term as a bitmap.
func (r *FieldReader) DocSet(term string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	l, err := r.Postings(term)
	if err != nil || l == nil {
		return bm, err
	}
	for {
		ok, err := l.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if l.Doc() > math.MaxUint32 {
			return nil, fmt.Errorf("field %s term %q: document %d does not fit a bitmap", r.name, term, l.Doc())
		}
		bm.Add(uint32(l.Doc()))
	}
	return bm, nil
}

// Iterator is a forward cursor over a sorted document list.
type Iterator interface {
	Next() (bool, error)
	Advance(target int64) (bool, error)
	Doc() int64
	Cost() int64
}

// Intersect returns the documents present in every iterator. The cheapest
// list leads and the others are advanced to its candidates.
func Intersect(its ...Iterator) ([]int64, error) {
	if len(its) == 0 {
		return nil, nil
	}
	its = slices.Clone(its)
	slices.SortFunc(its, func(a, b Iterator) int {
		return cmp.Compare(a.Cost(), b.Cost())
	})
	lead, others := its[0], its[1:]
	var out []int64

	ok, err := lead.Next()
	for ok && err == nil {
		target := lead.Doc()
		matched := true
		for _, it := range others {
			var found bool
			if found, err = it.Advance(target); err != nil {
				return nil, err
			}
			if !found {
				return out, nil
			}
			if it.Doc() > target {
				ok, err = lead.Advance(it.Doc())
				matched = false
				break
			}
		}
		if matched {
			out = append(out, target)
			ok, err = lead.Next()
		}
	}
	return out, err
}

// Index is a directory of field indexes.
type Index struct {
	dir       string
	fields    map[string]*FieldReader
	alignment *FieldReader
	names     []string
}

// Open loads every complete field index in dir. Field ids follow the given
// field list, which the alignment index refers to.
func Open(dir string, fields []string) (*Index, error) {
	idx := &Index{dir: dir, fields: make(map[string]*FieldReader, len(fields)), names: fields}
	for _, name := range fields {
		r, err := OpenField(dir, name)
		if errors.Is(err, ErrIncomplete) {
			continue
		}
		if err != nil {
			return nil, err
		}
		idx.fields[name] = r
	}
	r, err := OpenField(dir, AlignmentName)
	switch {
	case err == nil:
		idx.alignment = r
	case !errors.Is(err, ErrIncomplete):
		return nil, err
	}
	return idx, nil
}

// Field returns the reader of a field, or nil.
func (idx *Index) Field(name string) *FieldReader {
	return idx.fields[name]
}

// HasAlignment reports whether the directory holds an alignment index.
func (idx *Index) HasAlignment() bool {
	return idx.alignment != nil
}

// FieldsOf returns the ids of the fields term occurs in, read from the
// alignment index.
func (idx *Index) FieldsOf(term string) (*roaring.Bitmap, error) {
	if idx.alignment == nil {
		return nil, fmt.Errorf("%s has no alignment index", idx.dir)
	}
	return idx.alignment.DocSet(term)
}

// FieldNamesOf resolves FieldsOf to field names.
func (idx *Index) FieldNamesOf(term string) ([]string, error) {
	bm, err := idx.FieldsOf(term)
	if err != nil {
		return nil, err
	}
	var names []string
	it := bm.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		if id < len(idx.names) {
			names = append(names, idx.names[id])
		}
	}
	return names, nil
}

// Conjunction returns the documents that contain every term in field,
// intersecting the inverted lists with their skip structures.
func (idx *Index) Conjunction(field string, terms ...string) ([]int64, error) {
	r := idx.fields[field]
	if r == nil {
		return nil, fmt.Errorf("no index for field %q", field)
	}
	its := make([]Iterator, 0, len(terms))
	for _, t := range terms {
		l, err := r.Postings(t)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, nil
		}
		its = append(its, l)
	}
	return Intersect(its...)
}
