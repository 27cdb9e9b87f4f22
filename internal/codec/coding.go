package codec

import (
	"fmt"
	"strings"
)

// Coding selects the integer code of one postings component.
type Coding uint8

const (
	Unary Coding = iota + 1
	Gamma
	Delta
	VByte
)

func (c Coding) String() string {
	switch c {
	case Unary:
		return "UNARY"
	case Gamma:
		return "GAMMA"
	case Delta:
		return "DELTA"
	case VByte:
		return "VBYTE"
	default:
		return fmt.Sprintf("Coding(%d)", uint8(c))
	}
}

// ParseCoding accepts the coding names used in configuration.
func ParseCoding(name string) (Coding, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "UNARY":
		return Unary, nil
	case "GAMMA":
		return Gamma, nil
	case "DELTA":
		return Delta, nil
	case "VBYTE":
		return VByte, nil
	default:
		return 0, fmt.Errorf("unknown coding %q", name)
	}
}

// Write writes x >= 0 with coding c.
func (w *BitWriter) Write(c Coding, x uint64) {
	switch c {
	case Unary:
		w.WriteUnary(x)
	case Delta:
		w.WriteDelta(x)
	case VByte:
		w.WriteVByte(x)
	default:
		w.WriteGamma(x)
	}
}

// Read reads one integer written with coding c.
func (r *BitReader) Read(c Coding) (uint64, error) {
	switch c {
	case Unary:
		return r.ReadUnary()
	case Delta:
		return r.ReadDelta()
	case VByte:
		return r.ReadVByte()
	default:
		return r.ReadGamma()
	}
}
