package shuffle

import (
	"os"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
)

func collectAll(t *testing.T, outs []*MapOutput, partition int) []occurrence.Record {
	t.Helper()
	var runs []Run
	for _, o := range outs {
		runs = append(runs, o.Finish()[partition]...)
	}
	s, err := Merge(runs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	defer s.Close()
	var got []occurrence.Record
	for {
		r, err := s.Next()
		if err != nil {
			break
		}
		got = append(got, r)
	}
	return got
}

func TestMergeProducesTotalOrderAcrossSpills(t *testing.T) {
	dir := t.TempDir()
	a := NewMapOutput(Options{Partitions: 1, SpillThreshold: 3, SpillDir: dir})
	b := NewMapOutput(Options{Partitions: 1, SpillThreshold: -1, SpillDir: dir})

	for _, r := range []occurrence.Record{
		occurrence.Occurrence("zeta", 0, 2, 1),
		occurrence.Occurrence("alpha", 1, 5, 0),
		occurrence.Stats("alpha", 1, 5, 1, 0),
		occurrence.Occurrence("alpha", 0, 9, 3),
		occurrence.DocSize(0, 9, 4),
	} {
		if err := a.Collect(r); err != nil {
			t.Fatalf("Collect: %v", err)
		}
	}
	for _, r := range []occurrence.Record{
		occurrence.Occurrence("alpha", 0, 1, 0),
		occurrence.Stats("alpha", 0, 1, 1, 0),
	} {
		if err := b.Collect(r); err != nil {
			t.Fatalf("Collect: %v", err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 spill file after threshold, got %d", len(entries))
	}

	got := collectAll(t, []*MapOutput{a, b}, 0)
	if len(got) != 7 {
		t.Fatalf("expected 7 records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if occurrence.Compare(got[i-1], got[i]) > 0 {
			t.Fatalf("records out of order at %d: %v then %v", i, got[i-1], got[i])
		}
	}
	if got[0].Kind != occurrence.KindDocSize {
		t.Errorf("expected doc size group first, got %v", got[0])
	}

	entries, _ = os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("spill files not removed on close: %d left", len(entries))
	}
}

func TestGroupsSplitOnTermAndField(t *testing.T) {
	out := NewMapOutput(Options{Partitions: 1, SpillDir: t.TempDir()})
	recs := []occurrence.Record{
		occurrence.Occurrence("a", 0, 1, 0),
		occurrence.Stats("a", 0, 1, 1, 0),
		occurrence.Occurrence("a", 1, 1, 0),
		occurrence.Occurrence("b", 0, 1, 1),
		occurrence.Occurrence("b", 0, 2, 0),
	}
	for _, r := range recs {
		out.Collect(r)
	}
	s, err := Merge(out.Finish()[0])
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	defer s.Close()

	g := NewGroups(s)
	want := []struct {
		key   occurrence.GroupKey
		count int
	}{
		{occurrence.GroupKey{Term: "a", Field: 0}, 2},
		{occurrence.GroupKey{Term: "a", Field: 1}, 1},
		{occurrence.GroupKey{Term: "b", Field: 0}, 2},
	}
	for _, w := range want {
		key, ok, err := g.NextGroup()
		if err != nil || !ok {
			t.Fatalf("NextGroup: ok=%v err=%v", ok, err)
		}
		if key != w.key {
			t.Fatalf("expected group %v, got %v", w.key, key)
		}
		n := 0
		for {
			_, ok, err := g.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			n++
		}
		if n != w.count {
			t.Errorf("group %v: expected %d records, got %d", key, w.count, n)
		}
	}
	if _, ok, _ := g.NextGroup(); ok {
		t.Error("expected no more groups")
	}
}

func TestNextGroupSkipsUnreadRecords(t *testing.T) {
	out := NewMapOutput(Options{Partitions: 1, SpillDir: t.TempDir()})
	out.Collect(occurrence.Occurrence("a", 0, 1, 0))
	out.Collect(occurrence.Occurrence("a", 0, 2, 0))
	out.Collect(occurrence.Occurrence("c", 0, 1, 0))
	s, _ := Merge(out.Finish()[0])
	defer s.Close()

	g := NewGroups(s)
	g.NextGroup()
	key, ok, err := g.NextGroup()
	if err != nil || !ok || key.Term != "c" {
		t.Fatalf("expected group c, got %v ok=%v err=%v", key, ok, err)
	}
}

func TestPartitionsAreDisjoint(t *testing.T) {
	out := NewMapOutput(Options{Partitions: 4, SpillDir: t.TempDir()})
	terms := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, term := range terms {
		out.Collect(occurrence.Occurrence(term, 0, int64(i), 0))
	}
	runs := out.Finish()
	seen := map[string]int{}
	for p, prs := range runs {
		for _, r := range prs {
			for {
				rec, err := r.Next()
				if err != nil {
					break
				}
				if prev, ok := seen[rec.Term]; ok && prev != p {
					t.Fatalf("term %q in partitions %d and %d", rec.Term, prev, p)
				}
				seen[rec.Term] = p
				if want := occurrence.Partition(rec.Term, 4); want != p {
					t.Errorf("term %q in partition %d, want %d", rec.Term, p, want)
				}
			}
		}
	}
	if len(seen) != len(terms) {
		t.Errorf("expected %d terms, got %d", len(terms), len(seen))
	}
}
