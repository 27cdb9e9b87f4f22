package merger

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

type state uint8

const (
	consumingStats state = iota
	consumingOccurrences
	flushing
	done
)

func (s state) String() string {
	switch s {
	case consumingStats:
		return "CONSUMING_STATS"
	case consumingOccurrences:
		return "CONSUMING_OCCURRENCES"
	case flushing:
		return "FLUSHING"
	default:
		return "DONE"
	}
}

// postingsGroup is the accumulator of one ordinary (term, field) group.
type postingsGroup struct {
	m        *Merger
	s        *stream
	hasStats bool
	header   TermHeader

	cur  Posting
	open bool

	docs     int64
	occs     int64
	sumLast  int64
	buffered []Posting
}

// mergePostings runs the postings state machine over one group. When the
// group starts with STATS records the header is known before the first
// occurrence and postings stream straight to the sink; otherwise the header
// is counted from the occurrences and the postings are held until FLUSHING.
func (m *Merger) mergePostings(s *stream, rec occurrence.Record) error {
	g := &postingsGroup{
		m:        m,
		s:        s,
		hasStats: rec.Kind == occurrence.KindStats,
		header:   TermHeader{Term: s.key.Term},
		cur:      Posting{Positions: m.positions[:0]},
	}
	st := consumingOccurrences
	if g.hasStats {
		st = consumingStats
	}

	ok := true
	var err error
	for st != done {
		switch st {
		case consumingStats:
			if !ok {
				return apperrors.Invariant(apperrors.ErrUnexpectedKind, s.field, s.key.Term, apperrors.NoDoc,
					"statistics without occurrences")
			}
			if rec.Kind == occurrence.KindStats {
				g.header.Frequency++
				g.header.Occurrences += int64(rec.Count())
				g.header.SumLastPositions += int64(rec.LastPosition())
				if rec, ok, err = s.next(); err != nil {
					return err
				}
				continue
			}
			if m.pruned(g.header) {
				m.counters.TermsPruned++
				m.logger.Debug("pruned term", "term", s.key.Term, "field", s.field, "frequency", g.header.Frequency)
				return s.drain()
			}
			if err := m.sink.WriteTerm(s.key.Field, g.header); err != nil {
				return err
			}
			st = consumingOccurrences

		case consumingOccurrences:
			if !ok {
				st = flushing
				continue
			}
			if rec.Kind != occurrence.KindOccurrence {
				return s.unexpected(rec, occurrence.KindOccurrence)
			}
			if g.open && rec.DocID != g.cur.DocID {
				if err := g.flush(); err != nil {
					return err
				}
			}
			g.add(rec)
			if rec, ok, err = s.next(); err != nil {
				return err
			}

		case flushing:
			if err := g.finish(); err != nil {
				return err
			}
			st = done
		}
	}
	m.positions = g.cur.Positions[:0]
	return nil
}

func (g *postingsGroup) add(rec occurrence.Record) {
	if !g.open {
		g.cur.DocID = rec.DocID
		g.cur.Positions = g.cur.Positions[:0]
		g.open = true
	}
	g.cur.Positions = append(g.cur.Positions, rec.Position())
}

// flush ends the current document.
func (g *postingsGroup) flush() error {
	if !g.open {
		return nil
	}
	g.open = false
	g.docs++
	g.occs += int64(len(g.cur.Positions))
	g.sumLast += int64(g.cur.Positions[len(g.cur.Positions)-1])
	if !g.hasStats {
		g.buffered = append(g.buffered, Posting{DocID: g.cur.DocID, Positions: slices.Clone(g.cur.Positions)})
		return nil
	}
	g.m.counters.DocumentPostings++
	return g.m.sink.WritePosting(g.s.key.Field, g.cur)
}

func (g *postingsGroup) finish() error {
	if err := g.flush(); err != nil {
		return err
	}
	m, s := g.m, g.s

	if !g.hasStats {
		g.header.Frequency = g.docs
		g.header.Occurrences = g.occs
		g.header.SumLastPositions = g.sumLast
		if m.pruned(g.header) {
			m.counters.TermsPruned++
			return nil
		}
		if err := m.sink.WriteTerm(s.key.Field, g.header); err != nil {
			return err
		}
		for _, p := range g.buffered {
			if err := m.sink.WritePosting(s.key.Field, p); err != nil {
				return err
			}
			m.counters.DocumentPostings++
		}
		m.counters.PostingsTerms++
		return nil
	}

	if g.docs != g.header.Frequency || g.occs != g.header.Occurrences || g.sumLast != g.header.SumLastPositions {
		return apperrors.Invariant(apperrors.ErrInvariantViolation, s.field, s.key.Term, apperrors.NoDoc,
			"statistics announced %d documents/%d occurrences/%d last positions, postings hold %d/%d/%d",
			g.header.Frequency, g.header.Occurrences, g.header.SumLastPositions, g.docs, g.occs, g.sumLast)
	}
	m.counters.PostingsTerms++
	return nil
}
