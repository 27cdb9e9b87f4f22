// Package codec writes and reads the compressed postings format: bit
// streams, the instantaneous integer codes used for each postings component,
// and inverted lists with skip towers.
package codec

import (
	"fmt"
	"io"
	"math/bits"
)

// BitWriter appends bits most-significant first to an in-memory buffer.
// Complete bytes can be moved to an io.Writer with Flush.
type BitWriter struct {
	buf     []byte
	bits    int64
	flushed int64
}

// Len returns the number of bits written, flushed ones included.
func (w *BitWriter) Len() int64 {
	return w.bits
}

// Bytes returns the unflushed bits padded with zeros to a byte boundary.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

func (w *BitWriter) Reset() {
	w.buf = w.buf[:0]
	w.bits = 0
	w.flushed = 0
}

// Flush writes every complete byte to dst and keeps a trailing partial byte.
func (w *BitWriter) Flush(dst io.Writer) error {
	full := len(w.buf)
	if w.bits&7 != 0 {
		full--
	}
	if full <= 0 {
		return nil
	}
	if _, err := dst.Write(w.buf[:full]); err != nil {
		return err
	}
	n := copy(w.buf, w.buf[full:])
	w.buf = w.buf[:n]
	w.flushed += int64(full) * 8
	return nil
}

// Close writes everything, padding the last byte with zeros.
func (w *BitWriter) Close(dst io.Writer) error {
	if _, err := dst.Write(w.buf); err != nil {
		return err
	}
	w.flushed += int64(len(w.buf)) * 8
	w.buf = w.buf[:0]
	w.bits = w.flushed
	return nil
}

func (w *BitWriter) WriteBit(bit bool) {
	off := w.bits & 7
	if off == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit {
		w.buf[len(w.buf)-1] |= 0x80 >> off
	}
	w.bits++
}

// WriteBits writes the n low bits of v, high bit first.
func (w *BitWriter) WriteBits(v uint64, n int) {
	for n > 0 {
		off := int(w.bits & 7)
		if off == 0 {
			w.buf = append(w.buf, 0)
		}
		free := 8 - off
		take := min(free, n)
		chunk := byte(v>>(n-take)) & byte(1<<take-1)
		w.buf[len(w.buf)-1] |= chunk << (free - take)
		w.bits += int64(take)
		n -= take
	}
}

// Append copies every bit of src, which must not have been flushed.
func (w *BitWriter) Append(src *BitWriter) {
	if w.bits&7 == 0 {
		w.buf = append(w.buf, src.buf...)
		w.bits += src.bits
		return
	}
	full := src.bits / 8
	for _, b := range src.buf[:full] {
		w.WriteBits(uint64(b), 8)
	}
	if rest := int(src.bits & 7); rest > 0 {
		w.WriteBits(uint64(src.buf[full]>>(8-rest)), rest)
	}
}

// WriteUnary writes x zeros followed by a one.
func (w *BitWriter) WriteUnary(x uint64) {
	for ; x >= 32; x -= 32 {
		w.WriteBits(0, 32)
	}
	w.WriteBits(1, int(x)+1)
}

// WriteGamma writes x >= 0 in Elias gamma code (of x+1).
func (w *BitWriter) WriteGamma(x uint64) {
	v := x + 1
	n := bits.Len64(v)
	w.WriteUnary(uint64(n - 1))
	w.WriteBits(v, n-1)
}

// WriteDelta writes x >= 0 in Elias delta code (of x+1).
func (w *BitWriter) WriteDelta(x uint64) {
	v := x + 1
	n := bits.Len64(v)
	w.WriteGamma(uint64(n - 1))
	w.WriteBits(v, n-1)
}

// WriteVByte writes x in 7-bit groups, high group first, with a
// continuation bit on every group but the last.
func (w *BitWriter) WriteVByte(x uint64) {
	groups := (bits.Len64(x) + 6) / 7
	if groups == 0 {
		groups = 1
	}
	for g := groups - 1; g >= 0; g-- {
		b := (x >> (7 * g)) & 0x7f
		if g > 0 {
			b |= 0x80
		}
		w.WriteBits(b, 8)
	}
}

// BitReader reads bits most-significant first from a byte slice.
type BitReader struct {
	data []byte
	pos  int64
}

func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// Position returns the bit offset of the next read.
func (r *BitReader) Position() int64 {
	return r.pos
}

// Seek moves to an absolute bit offset.
func (r *BitReader) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(r.data))*8 {
		return fmt.Errorf("seek to bit %d outside %d bytes", pos, len(r.data))
	}
	r.pos = pos
	return nil
}

func (r *BitReader) ReadBit() (bool, error) {
	if r.pos >= int64(len(r.data))*8 {
		return false, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos>>3]&(0x80>>(r.pos&7)) != 0
	r.pos++
	return b, nil
}

func (r *BitReader) ReadBits(n int) (uint64, error) {
	if n > 64 {
		return 0, fmt.Errorf("cannot read %d bits at once", n)
	}
	if r.pos+int64(n) > int64(len(r.data))*8 {
		return 0, io.ErrUnexpectedEOF
	}
	var v uint64
	for n > 0 {
		off := int(r.pos & 7)
		avail := 8 - off
		take := min(avail, n)
		b := r.data[r.pos>>3] >> (avail - take) & byte(1<<take-1)
		v = v<<take | uint64(b)
		r.pos += int64(take)
		n -= take
	}
	return v, nil
}

func (r *BitReader) ReadUnary() (uint64, error) {
	var x uint64
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			return x, nil
		}
		x++
	}
}

func (r *BitReader) ReadGamma() (uint64, error) {
	n, err := r.ReadUnary()
	if err != nil {
		return 0, err
	}
	if n > 63 {
		return 0, fmt.Errorf("gamma code of %d bits", n+1)
	}
	low, err := r.ReadBits(int(n))
	if err != nil {
		return 0, err
	}
	return (1<<n | low) - 1, nil
}

func (r *BitReader) ReadDelta() (uint64, error) {
	n, err := r.ReadGamma()
	if err != nil {
		return 0, err
	}
	if n > 63 {
		return 0, fmt.Errorf("delta code of %d bits", n+1)
	}
	low, err := r.ReadBits(int(n))
	if err != nil {
		return 0, err
	}
	return (1<<n | low) - 1, nil
}

func (r *BitReader) ReadVByte() (uint64, error) {
	var x uint64
	for i := 0; i < 10; i++ {
		b, err := r.ReadBits(8)
		if err != nil {
			return 0, err
		}
		x = x<<7 | b&0x7f
		if b&0x80 == 0 {
			return x, nil
		}
	}
	return 0, fmt.Errorf("vbyte code longer than 10 bytes")
}
