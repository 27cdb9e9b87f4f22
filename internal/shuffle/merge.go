package shuffle

import (
	"container/heap"
	"errors"
	"io"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
)

type cursor struct {
	run Run
	rec occurrence.Record
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int           { return len(h) }
func (h cursorHeap) Less(i, j int) bool { return occurrence.Compare(h[i].rec, h[j].rec) < 0 }
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// Stream is the k-way merge of the sorted runs of one partition.
type Stream struct {
	runs []Run
	h    cursorHeap
	err  error
}

// Merge opens a totally ordered stream over runs. The stream owns the runs
// and closes them in Close.
func Merge(runs []Run) (*Stream, error) {
	s := &Stream{runs: runs}
	for _, r := range runs {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			continue
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		s.h = append(s.h, &cursor{run: r, rec: rec})
	}
	heap.Init(&s.h)
	return s, nil
}

// Next returns the next record in sort order, or io.EOF.
func (s *Stream) Next() (occurrence.Record, error) {
	if s.err != nil {
		return occurrence.Record{}, s.err
	}
	if len(s.h) == 0 {
		return occurrence.Record{}, io.EOF
	}
	top := s.h[0]
	rec := top.rec
	next, err := top.run.Next()
	switch {
	case errors.Is(err, io.EOF):
		heap.Pop(&s.h)
	case err != nil:
		s.err = err
		return occurrence.Record{}, err
	default:
		top.rec = next
		heap.Fix(&s.h, 0)
	}
	return rec, nil
}

// Close releases every run and removes spill files.
func (s *Stream) Close() error {
	var first error
	for _, r := range s.runs {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.runs = nil
	s.h = nil
	return first
}

// Groups splits a Stream into consecutive runs of equal GroupKey.
type Groups struct {
	s       *Stream
	pending *occurrence.Record
	cur     occurrence.GroupKey
	inGroup bool
	done    bool
}

func NewGroups(s *Stream) *Groups {
	return &Groups{s: s}
}

// NextGroup skips whatever is left of the current group and positions the
// iterator at the next one. It returns false once the stream is drained.
func (g *Groups) NextGroup() (occurrence.GroupKey, bool, error) {
	for g.inGroup {
		if _, ok, err := g.Next(); err != nil {
			return occurrence.GroupKey{}, false, err
		} else if !ok {
			break
		}
	}
	if g.done {
		return occurrence.GroupKey{}, false, nil
	}
	if g.pending == nil {
		rec, err := g.s.Next()
		if errors.Is(err, io.EOF) {
			g.done = true
			return occurrence.GroupKey{}, false, nil
		}
		if err != nil {
			return occurrence.GroupKey{}, false, err
		}
		g.pending = &rec
	}
	g.cur = g.pending.Group()
	g.inGroup = true
	return g.cur, true, nil
}

// Next returns the next record of the current group. ok is false at the
// group boundary.
func (g *Groups) Next() (rec occurrence.Record, ok bool, err error) {
	if !g.inGroup {
		return occurrence.Record{}, false, nil
	}
	if g.pending != nil {
		rec = *g.pending
		g.pending = nil
		return rec, true, nil
	}
	rec, err = g.s.Next()
	if errors.Is(err, io.EOF) {
		g.inGroup = false
		g.done = true
		return occurrence.Record{}, false, nil
	}
	if err != nil {
		return occurrence.Record{}, false, err
	}
	if rec.Group() != g.cur {
		g.pending = &rec
		g.inGroup = false
		return occurrence.Record{}, false, nil
	}
	return rec, true, nil
}
