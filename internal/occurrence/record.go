// Package occurrence defines the intermediate records exchanged between the
// emission and merge phases, and the total order the shuffle sorts them by.
//
// Records of several kinds share one key space. Within a (term, field) group
// the kind order puts every STATS record before any OCCURRENCE record, so a
// merger can compute a term's header and then stream its postings in a
// single forward pass.
package occurrence

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind tags the payload carried by a Record. The numeric order is the
// intra-group sort order.
type Kind uint8

const (
	// KindIndexID records that a term occurs in a field (alignment field only).
	KindIndexID Kind = iota
	// KindStats carries a document's occurrence count and last position for a term.
	KindStats
	// KindOccurrence is one term at one position of one document.
	KindOccurrence
	// KindDocSize carries the number of terms of a document in a field.
	KindDocSize
)

func (k Kind) String() string {
	switch k {
	case KindIndexID:
		return "INDEX_ID"
	case KindStats:
		return "STATS"
	case KindOccurrence:
		return "OCCURRENCE"
	case KindDocSize:
		return "DOC_SIZE"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// AlignmentField is the reserved id of the synthetic alignment field. It is
// negative so it never collides with a configured field id.
const AlignmentField int32 = -1

// DocSizeTerm is the reserved term under which DOC_SIZE records are grouped.
// Extracted terms are never empty.
const DocSizeTerm = ""

// GroupKey identifies one merge group.
type GroupKey struct {
	Term  string
	Field int32
}

func (g GroupKey) String() string {
	return fmt.Sprintf("%q@%d", g.Term, g.Field)
}

// Record is a tagged union over the four record kinds. DocID is set for
// every kind so that exact duplicates can be told apart from distinct
// records with equal payloads.
type Record struct {
	Term  string
	Field int32
	Kind  Kind
	DocID int64
	// A is the position (OCCURRENCE), the occurrence count (STATS), the
	// member field id (INDEX_ID) or the document size (DOC_SIZE).
	A int32
	// B is the last position (STATS), zero otherwise.
	B int32
}

// Occurrence builds an OCCURRENCE record.
func Occurrence(term string, field int32, docID int64, position int32) Record {
	return Record{Term: term, Field: field, Kind: KindOccurrence, DocID: docID, A: position}
}

// Stats builds a STATS record.
func Stats(term string, field int32, docID int64, count, last int32) Record {
	return Record{Term: term, Field: field, Kind: KindStats, DocID: docID, A: count, B: last}
}

// IndexID builds an alignment record saying term occurs in memberField.
func IndexID(term string, docID int64, memberField int32) Record {
	return Record{Term: term, Field: AlignmentField, Kind: KindIndexID, DocID: docID, A: memberField}
}

// DocSize builds a DOC_SIZE record for a field.
func DocSize(field int32, docID int64, size int32) Record {
	return Record{Term: DocSizeTerm, Field: field, Kind: KindDocSize, DocID: docID, A: size}
}

// Group returns the merge group of r.
func (r Record) Group() GroupKey {
	return GroupKey{Term: r.Term, Field: r.Field}
}

func (r Record) Position() int32 { return r.A }

func (r Record) Count() int32 { return r.A }

func (r Record) LastPosition() int32 { return r.B }

func (r Record) MemberField() int32 { return r.A }

func (r Record) Size() int32 { return r.A }

func (r Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s doc=%d", r.Group(), r.Kind, r.DocID)
	switch r.Kind {
	case KindOccurrence:
		fmt.Fprintf(&b, " pos=%d", r.A)
	case KindStats:
		fmt.Fprintf(&b, " count=%d last=%d", r.A, r.B)
	case KindIndexID:
		fmt.Fprintf(&b, " field=%d", r.A)
	case KindDocSize:
		fmt.Fprintf(&b, " size=%d", r.A)
	}
	return b.String()
}

// CompareGroups orders groups by term, then field id.
func CompareGroups(a, b GroupKey) int {
	if c := strings.Compare(a.Term, b.Term); c != 0 {
		return c
	}
	return cmp.Compare(a.Field, b.Field)
}

// Compare is the total order of the shuffle: term, field id, kind, then the
// kind's disambiguator (member field for INDEX_ID), document id and payload.
// Two records comparing equal are exact duplicates.
func Compare(a, b Record) int {
	if c := CompareGroups(a.Group(), b.Group()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if a.Kind == KindIndexID {
		if c := cmp.Compare(a.A, b.A); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(a.DocID, b.DocID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.A, b.A); c != 0 {
		return c
	}
	return cmp.Compare(a.B, b.B)
}

// Partition assigns a term to one of n merge tasks. Every group of a term,
// including its alignment group, lands in the same task.
func Partition(term string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(term) % uint64(n))
}
