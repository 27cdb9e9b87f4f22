package codec

import (
	"fmt"
	"math"
)

// NoMoreDocs is the document of an exhausted ListReader.
const NoMoreDocs int64 = math.MaxInt64

// Params describes how the inverted lists of one field index are coded.
type Params struct {
	Frequencies  Coding
	Pointers     Coding
	Counts       Coding
	Positions    Coding
	HasCounts    bool
	HasPositions bool
	// Quantum is the number of postings between two skip entries. Zero
	// disables skipping.
	Quantum int
	// Height caps the skip towers: a reader jumps at most 2^Height entries
	// at a time.
	Height int
}

func DefaultParams() Params {
	return Params{
		Frequencies:  Gamma,
		Pointers:     Delta,
		Counts:       Gamma,
		Positions:    Delta,
		HasCounts:    true,
		HasPositions: true,
		Quantum:      8,
		Height:       10,
	}
}

// Validate rejects parameter sets a reader could not decode.
func (p Params) Validate() error {
	for _, c := range []Coding{p.Frequencies, p.Pointers, p.Counts, p.Positions} {
		if c < Unary || c > VByte {
			return fmt.Errorf("invalid coding %v", c)
		}
	}
	if p.HasPositions && !p.HasCounts {
		return fmt.Errorf("positions require counts")
	}
	if p.Quantum < 0 || p.Height < 0 {
		return fmt.Errorf("invalid skip shape quantum=%d height=%d", p.Quantum, p.Height)
	}
	return nil
}

type skipEntry struct {
	prevDoc int64
	offset  int64
}

// Encoder builds one inverted list at a time. A list is
//
//	frequency-1                         (Frequencies)
//	occurrences-frequency               (delta, only with counts)
//	skip entries                        (delta coded, one per full quantum)
//	postings                            (pointer gap, count-1, position gaps)
//
// Skip entry k holds the document before posting (k+1)*Quantum and the bit
// offset of that posting relative to the start of the postings.
type Encoder struct {
	p           Params
	frequency   int64
	occurrences int64
	n           int64
	prevDoc     int64
	data        BitWriter
	skips       []skipEntry
}

func NewEncoder(p Params) *Encoder {
	return &Encoder{p: p}
}

// Begin starts a list of frequency postings.
func (e *Encoder) Begin(frequency int64) error {
	if frequency < 1 {
		return fmt.Errorf("inverted list of %d documents", frequency)
	}
	e.frequency = frequency
	e.occurrences = 0
	e.n = 0
	e.prevDoc = -1
	e.data.Reset()
	e.skips = e.skips[:0]
	return nil
}

// Add appends a posting. Document ids must be strictly increasing and
// positions non-decreasing.
func (e *Encoder) Add(docID int64, positions []int32) error {
	if e.n >= e.frequency {
		return fmt.Errorf("posting %d beyond announced frequency %d", e.n+1, e.frequency)
	}
	if docID <= e.prevDoc {
		return fmt.Errorf("document %d after %d", docID, e.prevDoc)
	}
	if e.p.HasCounts && len(positions) == 0 {
		return fmt.Errorf("document %d without positions", docID)
	}
	if e.p.Quantum > 0 && e.n > 0 && e.n%int64(e.p.Quantum) == 0 {
		e.skips = append(e.skips, skipEntry{prevDoc: e.prevDoc, offset: e.data.Len()})
	}

	e.data.Write(e.p.Pointers, uint64(docID-e.prevDoc-1))
	if e.p.HasCounts {
		e.data.Write(e.p.Counts, uint64(len(positions)-1))
		e.occurrences += int64(len(positions))
	}
	if e.p.HasPositions {
		prev := int32(0)
		for _, pos := range positions {
			if pos < prev {
				return fmt.Errorf("document %d: position %d after %d", docID, pos, prev)
			}
			e.data.Write(e.p.Positions, uint64(pos-prev))
			prev = pos
		}
	}
	e.prevDoc = docID
	e.n++
	return nil
}

// Finish writes the complete list to out.
func (e *Encoder) Finish(out *BitWriter) error {
	if e.n != e.frequency {
		return fmt.Errorf("inverted list holds %d postings, announced %d", e.n, e.frequency)
	}
	out.Write(e.p.Frequencies, uint64(e.frequency-1))
	if e.p.HasCounts {
		out.WriteDelta(uint64(e.occurrences - e.frequency))
	}
	lastDoc, lastOffset := int64(-1), int64(0)
	for _, s := range e.skips {
		out.WriteDelta(uint64(s.prevDoc - lastDoc - 1))
		out.WriteDelta(uint64(s.offset - lastOffset))
		lastDoc, lastOffset = s.prevDoc, s.offset
	}
	out.Append(&e.data)
	return nil
}

// Done reports whether every announced posting was added.
func (e *Encoder) Done() bool {
	return e.frequency > 0 && e.n == e.frequency
}

// Occurrences returns the sum of counts added so far.
func (e *Encoder) Occurrences() int64 {
	return e.occurrences
}

// ListReader iterates one inverted list.
type ListReader struct {
	r           *BitReader
	p           Params
	frequency   int64
	occurrences int64
	skips       []skipEntry
	dataStart   int64

	read      int64
	doc       int64
	positions []int32
}

// NewListReader decodes the list starting at bit offset of data.
func NewListReader(data []byte, offset int64, p Params) (*ListReader, error) {
	r := NewBitReader(data)
	if err := r.Seek(offset); err != nil {
		return nil, err
	}
	l := &ListReader{r: r, p: p, doc: -1}

	f, err := r.Read(p.Frequencies)
	if err != nil {
		return nil, fmt.Errorf("reading frequency: %w", err)
	}
	l.frequency = int64(f) + 1
	if p.HasCounts {
		extra, err := r.ReadDelta()
		if err != nil {
			return nil, fmt.Errorf("reading occurrences: %w", err)
		}
		l.occurrences = int64(extra) + l.frequency
	}
	if p.Quantum > 0 {
		n := (l.frequency - 1) / int64(p.Quantum)
		l.skips = make([]skipEntry, 0, n)
		lastDoc, lastOffset := int64(-1), int64(0)
		for i := int64(0); i < n; i++ {
			dg, err := r.ReadDelta()
			if err != nil {
				return nil, fmt.Errorf("reading skip entry %d: %w", i, err)
			}
			og, err := r.ReadDelta()
			if err != nil {
				return nil, fmt.Errorf("reading skip entry %d: %w", i, err)
			}
			lastDoc += int64(dg) + 1
			lastOffset += int64(og)
			l.skips = append(l.skips, skipEntry{prevDoc: lastDoc, offset: lastOffset})
		}
	}
	l.dataStart = r.Position()
	return l, nil
}

func (l *ListReader) Frequency() int64 { return l.frequency }

func (l *ListReader) Occurrences() int64 { return l.occurrences }

// Cost is the number of postings, used to order intersections.
func (l *ListReader) Cost() int64 { return l.frequency }

// Doc returns the current document, -1 before the first Next and
// NoMoreDocs once exhausted.
func (l *ListReader) Doc() int64 { return l.doc }

// Count returns the occurrences in the current document, or 0 for lists
// without counts.
func (l *ListReader) Count() int32 {
	if !l.p.HasCounts {
		return 0
	}
	return int32(len(l.positions))
}

// Positions returns the current document's positions. The slice is reused.
func (l *ListReader) Positions() []int32 { return l.positions }

// Next moves to the next posting.
func (l *ListReader) Next() (bool, error) {
	if l.read >= l.frequency {
		l.doc = NoMoreDocs
		return false, nil
	}
	gap, err := l.r.Read(l.p.Pointers)
	if err != nil {
		return false, fmt.Errorf("reading posting %d: %w", l.read, err)
	}
	l.doc += int64(gap) + 1
	l.positions = l.positions[:0]
	if l.p.HasCounts {
		c, err := l.r.Read(l.p.Counts)
		if err != nil {
			return false, fmt.Errorf("reading count of document %d: %w", l.doc, err)
		}
		if l.p.HasPositions {
			prev := int32(0)
			for i := uint64(0); i <= c; i++ {
				g, err := l.r.Read(l.p.Positions)
				if err != nil {
					return false, fmt.Errorf("reading positions of document %d: %w", l.doc, err)
				}
				prev += int32(g)
				l.positions = append(l.positions, prev)
			}
		} else {
			for i := uint64(0); i <= c; i++ {
				l.positions = append(l.positions, 0)
			}
		}
	}
	l.read++
	return true, nil
}

// Advance moves to the first document >= target, using the skip towers to
// jump over whole quanta.
func (l *ListReader) Advance(target int64) (bool, error) {
	if l.doc >= target {
		return l.doc != NoMoreDocs, nil
	}
	if len(l.skips) > 0 {
		q := int64(l.p.Quantum)
		start := int(l.read / q)
		i := start - 1
		for level := l.p.Height; level >= 0; level-- {
			stride := 1 << level
			for i+stride < len(l.skips) && l.skips[i+stride].prevDoc < target {
				i += stride
			}
		}
		if i >= start {
			s := l.skips[i]
			if err := l.r.Seek(l.dataStart + s.offset); err != nil {
				return false, err
			}
			l.doc = s.prevDoc
			l.read = int64(i+1) * q
		}
	}
	for l.doc < target {
		ok, err := l.Next()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
