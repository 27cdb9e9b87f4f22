package codec

import (
	"bytes"
	"math/rand"
	"slices"
	"testing"
)

func TestCodingsRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 2, 3, 7, 8, 127, 128, 1000, 1 << 20, 1<<40 + 3}
	for _, c := range []Coding{Unary, Gamma, Delta, VByte} {
		t.Run(c.String(), func(t *testing.T) {
			var w BitWriter
			for _, v := range values {
				if c == Unary && v > 1000 {
					continue
				}
				w.Write(c, v)
			}
			r := NewBitReader(w.Bytes())
			for _, v := range values {
				if c == Unary && v > 1000 {
					continue
				}
				got, err := r.Read(c)
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				if got != v {
					t.Fatalf("expected %d, got %d", v, got)
				}
			}
		})
	}
}

func TestGammaBitPattern(t *testing.T) {
	var w BitWriter
	w.WriteGamma(3)
	if w.Len() != 5 {
		t.Fatalf("expected 5 bits for gamma(4), got %d", w.Len())
	}
	if w.Bytes()[0] != 0b00100000 {
		t.Errorf("unexpected bit pattern %08b", w.Bytes()[0])
	}
}

func TestAppendUnaligned(t *testing.T) {
	var a, b BitWriter
	a.WriteBits(0b101, 3)
	b.WriteBits(0xABCD, 16)
	b.WriteBits(0b11, 2)
	a.Append(&b)
	if a.Len() != 21 {
		t.Fatalf("expected 21 bits, got %d", a.Len())
	}
	r := NewBitReader(a.Bytes())
	if v, _ := r.ReadBits(3); v != 0b101 {
		t.Errorf("prefix mismatch %b", v)
	}
	if v, _ := r.ReadBits(16); v != 0xABCD {
		t.Errorf("payload mismatch %x", v)
	}
	if v, _ := r.ReadBits(2); v != 0b11 {
		t.Errorf("tail mismatch %b", v)
	}
}

func TestFlushKeepsPartialByte(t *testing.T) {
	var w BitWriter
	var dst bytes.Buffer
	var want BitWriter
	for i := uint64(0); i < 200; i++ {
		w.WriteDelta(i)
		want.WriteDelta(i)
		if i%17 == 0 {
			if err := w.Flush(&dst); err != nil {
				t.Fatalf("Flush: %v", err)
			}
		}
	}
	if err := w.Close(&dst); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.Equal(dst.Bytes(), want.Bytes()) {
		t.Fatal("flushed stream differs from unflushed one")
	}
}

func TestParseCoding(t *testing.T) {
	if c, err := ParseCoding(" delta "); err != nil || c != Delta {
		t.Errorf("expected DELTA, got %v %v", c, err)
	}
	if _, err := ParseCoding("golomb"); err == nil {
		t.Error("expected error for unknown coding")
	}
}

type posting struct {
	doc       int64
	positions []int32
}

func randomList(rng *rand.Rand, n int) []posting {
	var out []posting
	doc := int64(-1)
	for i := 0; i < n; i++ {
		doc += int64(rng.Intn(20)) + 1
		var pos []int32
		p := int32(rng.Intn(5))
		for j := 0; j <= rng.Intn(4); j++ {
			pos = append(pos, p)
			p += int32(rng.Intn(6)) + 1
		}
		out = append(out, posting{doc: doc, positions: pos})
	}
	return out
}

func encode(t *testing.T, p Params, lists ...[]posting) ([]byte, []int64) {
	t.Helper()
	var out BitWriter
	var offsets []int64
	e := NewEncoder(p)
	for _, list := range lists {
		offsets = append(offsets, out.Len())
		if err := e.Begin(int64(len(list))); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		for _, ps := range list {
			if err := e.Add(ps.doc, ps.positions); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		if err := e.Finish(&out); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	return out.Bytes(), offsets
}

func TestListRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lists := [][]posting{randomList(rng, 1), randomList(rng, 8), randomList(rng, 9), randomList(rng, 300)}
	for _, p := range []Params{
		DefaultParams(),
		{Frequencies: VByte, Pointers: Gamma, Counts: Unary, Positions: Gamma, HasCounts: true, HasPositions: true, Quantum: 3, Height: 2},
		{Frequencies: Gamma, Pointers: Delta, Counts: Gamma, Positions: Delta, HasCounts: true, Quantum: 0},
	} {
		data, offsets := encode(t, p, lists...)
		for li, list := range lists {
			l, err := NewListReader(data, offsets[li], p)
			if err != nil {
				t.Fatalf("NewListReader: %v", err)
			}
			if l.Frequency() != int64(len(list)) {
				t.Fatalf("expected frequency %d, got %d", len(list), l.Frequency())
			}
			var occs int64
			for _, want := range list {
				ok, err := l.Next()
				if err != nil || !ok {
					t.Fatalf("Next: ok=%v err=%v", ok, err)
				}
				if l.Doc() != want.doc {
					t.Fatalf("expected doc %d, got %d", want.doc, l.Doc())
				}
				if p.HasPositions && !slices.Equal(l.Positions(), want.positions) {
					t.Fatalf("doc %d: expected positions %v, got %v", want.doc, want.positions, l.Positions())
				}
				if int(l.Count()) != len(want.positions) {
					t.Fatalf("doc %d: expected count %d, got %d", want.doc, len(want.positions), l.Count())
				}
				occs += int64(len(want.positions))
			}
			if ok, _ := l.Next(); ok || l.Doc() != NoMoreDocs {
				t.Error("expected exhausted list")
			}
			if l.Occurrences() != occs {
				t.Errorf("expected %d occurrences, got %d", occs, l.Occurrences())
			}
		}
	}
}

func TestAdvanceUsesSkips(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	list := randomList(rng, 500)
	for _, p := range []Params{DefaultParams(), {Frequencies: Gamma, Pointers: Delta, Counts: Gamma, Positions: Delta, HasCounts: true, HasPositions: true, Quantum: 4, Height: 0}} {
		data, offsets := encode(t, p, list)
		for _, target := range []int64{0, list[7].doc, list[8].doc + 1, list[250].doc, list[499].doc, list[499].doc + 1} {
			l, err := NewListReader(data, offsets[0], p)
			if err != nil {
				t.Fatalf("NewListReader: %v", err)
			}
			if _, err := l.Next(); err != nil {
				t.Fatalf("Next: %v", err)
			}
			ok, err := l.Advance(target)
			if err != nil {
				t.Fatalf("Advance(%d): %v", target, err)
			}
			i, _ := slices.BinarySearchFunc(list, target, func(ps posting, tgt int64) int {
				switch {
				case ps.doc < tgt:
					return -1
				case ps.doc > tgt:
					return 1
				}
				return 0
			})
			if i == len(list) {
				if ok {
					t.Errorf("Advance(%d) past the end returned doc %d", target, l.Doc())
				}
				continue
			}
			if !ok || l.Doc() != list[i].doc {
				t.Fatalf("Advance(%d): expected doc %d, got %d", target, list[i].doc, l.Doc())
			}
			if !slices.Equal(l.Positions(), list[i].positions) {
				t.Errorf("Advance(%d): positions %v, want %v", target, l.Positions(), list[i].positions)
			}
		}
	}
}

func TestEncoderRejectsBadInput(t *testing.T) {
	e := NewEncoder(DefaultParams())
	if err := e.Begin(0); err == nil {
		t.Error("expected error for empty list")
	}
	e.Begin(2)
	e.Add(5, []int32{0})
	if err := e.Add(5, []int32{1}); err == nil {
		t.Error("expected error for repeated document")
	}
	var out BitWriter
	if err := e.Finish(&out); err == nil {
		t.Error("expected error for short list")
	}
}

func BenchmarkListDecode(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	list := randomList(rng, 10000)
	p := DefaultParams()
	var out BitWriter
	e := NewEncoder(p)
	e.Begin(int64(len(list)))
	for _, ps := range list {
		e.Add(ps.doc, ps.positions)
	}
	e.Finish(&out)
	data := out.Bytes()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l, _ := NewListReader(data, 0, p)
		for {
			ok, _ := l.Next()
			if !ok {
				break
			}
		}
	}
}
