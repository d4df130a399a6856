// Package tick defines the discrete simulation time unit shared by both ends
// of a connection. Values are offset by one so the zero value is an invalid
// sentinel.
package tick

import (
	"fmt"
	"math"
	"time"
)

// Tick is a simulation step index stored with a +1 offset.
type Tick uint32

const (
	// Invalid is the zero sentinel. Arithmetic on it is a caller error.
	Invalid Tick = 0
	// Start is simulation tick zero.
	Start Tick = 1
	// Max is the largest representable tick.
	Max Tick = math.MaxUint32
)

// FromRaw converts a zero-based tick number into a Tick.
func FromRaw(n uint32) Tick {
	if n == math.MaxUint32 {
		return Max
	}
	return Tick(n + 1)
}

// IsValid reports whether t is not the sentinel.
func (t Tick) IsValid() bool {
	return t != Invalid
}

// Raw returns the zero-based tick number.
func (t Tick) Raw() uint32 {
	MustValid(t)
	return uint32(t) - 1
}

// Next returns the following tick, saturating at Max.
func (t Tick) Next() Tick {
	return t.Add(1)
}

// Add offsets t by n ticks. The result saturates at Max; falling to or below
// the sentinel panics.
func (t Tick) Add(n int) Tick {
	MustValid(t)
	sum := int64(t) + int64(n)
	if sum < int64(Start) {
		panic(fmt.Sprintf("tick: %s%+d underflows tick zero", t, n))
	}
	if sum > int64(Max) {
		return Max
	}
	return Tick(sum)
}

// Sub returns the signed distance t - basis.
func (t Tick) Sub(basis Tick) int {
	MustValid(t)
	MustValid(basis)
	return int(int64(t) - int64(basis))
}

// Time returns the simulation time of t in seconds.
func (t Tick) Time(step time.Duration) float64 {
	return float64(t.Raw()) * step.Seconds()
}

func (t Tick) String() string {
	if t == Invalid {
		return "Tick:INVALID"
	}
	return fmt.Sprintf("Tick:%d", uint32(t)-1)
}

// MustValid panics when t is the sentinel.
func MustValid(t Tick) {
	if t == Invalid {
		panic("tick: operation on invalid tick")
	}
}

// Later returns the greater of two ticks, ignoring invalid ones.
func Later(a, b Tick) Tick {
	if a > b {
		return a
	}
	return b
}
