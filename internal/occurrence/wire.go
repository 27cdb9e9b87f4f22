package occurrence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AppendBinary appends the wire form of r to dst. The encoding is used for
// shuffle spill runs and is not a stable on-disk format.
func AppendBinary(dst []byte, r Record) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(r.Term)))
	dst = append(dst, r.Term...)
	dst = binary.AppendVarint(dst, int64(r.Field))
	dst = append(dst, byte(r.Kind))
	dst = binary.AppendVarint(dst, r.DocID)
	dst = binary.AppendVarint(dst, int64(r.A))
	dst = binary.AppendVarint(dst, int64(r.B))
	return dst
}

// ReadBinary decodes one record. It returns io.EOF only at a clean record
// boundary.
func ReadBinary(br *bufio.Reader) (Record, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("reading term length: %w", err)
	}
	term := make([]byte, n)
	if _, err := io.ReadFull(br, term); err != nil {
		return Record{}, fmt.Errorf("reading term: %w", unexpected(err))
	}
	field, err := binary.ReadVarint(br)
	if err != nil {
		return Record{}, fmt.Errorf("reading field: %w", unexpected(err))
	}
	kind, err := br.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("reading kind: %w", unexpected(err))
	}
	var vals [3]int64
	for i := range vals {
		if vals[i], err = binary.ReadVarint(br); err != nil {
			return Record{}, fmt.Errorf("reading payload: %w", unexpected(err))
		}
	}
	return Record{
		Term:  string(term),
		Field: int32(field),
		Kind:  Kind(kind),
		DocID: vals[0],
		A:     int32(vals[1]),
		B:     int32(vals[2]),
	}, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
