package tick

import (
	"fmt"
	"math/bits"
)

// IntEncoder packs integers in [Min, Max] into the fewest bits that can hold
// the range.
type IntEncoder struct {
	Min int
	Max int
}

// NewIntEncoder validates the bounds.
func NewIntEncoder(min, max int) IntEncoder {
	if max < min {
		panic(fmt.Sprintf("tick: encoder max %d below min %d", max, min))
	}
	return IntEncoder{Min: min, Max: max}
}

// SpanEncoder covers every span value for the horizon: out-of-range (-1),
// invalid (0) and in-range offsets up to horizon+1.
func SpanEncoder(horizon int) IntEncoder {
	return NewIntEncoder(int(spanOutOfRange), horizon+1)
}

// RequiredBits reports the packed width.
func (e IntEncoder) RequiredBits() uint8 {
	n := bits.Len64(uint64(e.Max - e.Min))
	if n == 0 {
		return 1
	}
	return uint8(n)
}

// Pack maps v into the unsigned packed range. v must lie within the bounds.
func (e IntEncoder) Pack(v int) uint32 {
	if v < e.Min || v > e.Max {
		panic(fmt.Sprintf("tick: value %d outside encoder range [%d,%d]", v, e.Min, e.Max))
	}
	return uint32(v - e.Min)
}

// Unpack reverses Pack.
func (e IntEncoder) Unpack(data uint32) int {
	return int(data) + e.Min
}

// InRange reports whether data decodes into the encoder bounds.
func (e IntEncoder) InRange(data uint32) bool {
	return int64(data) <= int64(e.Max-e.Min)
}
