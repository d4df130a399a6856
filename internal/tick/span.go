package tick

import "fmt"

const (
	spanInvalid    int32 = 0
	spanOutOfRange int32 = -1
)

// Span is a bounded, non-negative offset between two ticks. The zero value is
// invalid; offsets beyond the horizon collapse into a distinct out-of-range
// marker.
type Span struct {
	value int32
}

// OutOfRange marks a difference larger than the configured horizon.
var OutOfRange = Span{value: spanOutOfRange}

// NewSpan computes latest - basis. Both ticks must be valid and latest must
// not precede basis.
func NewSpan(latest, basis Tick, horizon int) Span {
	MustValid(latest)
	MustValid(basis)
	if latest < basis {
		panic(fmt.Sprintf("tick: span latest %s precedes basis %s", latest, basis))
	}
	delta := latest.Sub(basis)
	if delta > horizon {
		return OutOfRange
	}
	return Span{value: int32(delta) + 1}
}

// IsValid reports whether s is in range or out of range.
func (s Span) IsValid() bool {
	return s.value > 0 || s.value == spanOutOfRange
}

// IsInRange reports whether s carries a usable offset.
func (s Span) IsInRange() bool {
	return s.value > 0
}

// IsOutOfRange reports whether s exceeded the horizon.
func (s Span) IsOutOfRange() bool {
	return s.value == spanOutOfRange
}

// Raw returns the offset. Only legal for in-range spans.
func (s Span) Raw() int {
	if !s.IsInRange() {
		panic(fmt.Sprintf("tick: raw value of %s", s))
	}
	return int(s.value - 1)
}

// Resolve returns latest minus the span offset, or Invalid when the span does
// not carry an offset.
func (s Span) Resolve(latest Tick) Tick {
	if !s.IsInRange() || !latest.IsValid() {
		return Invalid
	}
	off := s.Raw()
	if latest.Sub(Start) < off {
		return Invalid
	}
	return latest.Add(-off)
}

// Pack returns the encoder value for s.
func (s Span) Pack(enc IntEncoder) uint32 {
	return enc.Pack(int(s.value))
}

// UnpackSpan rebuilds a span from an encoded value.
func UnpackSpan(enc IntEncoder, data uint32) Span {
	return Span{value: int32(enc.Unpack(data))}
}

func (s Span) String() string {
	switch s.value {
	case spanInvalid:
		return "TickSpan:INVALID"
	case spanOutOfRange:
		return "TickSpan:OUTOFRANGE"
	default:
		return fmt.Sprintf("TickSpan:%d", s.value-1)
	}
}
