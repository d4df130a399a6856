// Package kinematic is a ready-made entity payload: a position and heading
// that blend smoothly, a discrete mode that snaps, an immutable color sent
// once, and a health value only the controlling peer sees.
package kinematic

import (
	"math"

	"ticksync/internal/bitbuf"
	"ticksync/internal/state"
)

// Type is the registered tag for kinematic states.
const Type state.Type = 1

const (
	FieldX = 1 << iota
	FieldY
	FieldHeading
	FieldMode
	FieldColor
	FieldHealth

	fieldCount = 6
)

// State is the kinematic payload.
type State struct {
	X, Y    float32
	Heading float32 // radians in [-π, π)
	Mode    uint8
	Color   uint32
	Health  uint16
}

// From asserts s is a kinematic state.
func From(s state.State) *State {
	if s == nil {
		return nil
	}
	return s.(*State)
}

// Codec returns the codec table for kinematic states.
func Codec() state.Codec {
	return state.Codec{
		Type:           Type,
		Name:           "kinematic",
		Fields:         fieldCount,
		ImmutableMask:  FieldColor,
		ControllerMask: FieldHealth,
		New:            func() state.State { return &State{} },
		Reset:          func(s state.State) { *From(s) = State{} },
		Copy:           func(dst, src state.State) { *From(dst) = *From(src) },
		Compare:        compare,
		EncodeFields:   encodeFields,
		DecodeFields:   decodeFields,
		Apply:          apply,
		Blend:          blend,
	}
}

// Register adds the kinematic codec to reg.
func Register(reg *state.Registry) error {
	return reg.Register(Codec())
}

func compare(cur, basis state.State) uint64 {
	a, b := From(cur), From(basis)
	var mask uint64
	if a.X != b.X {
		mask |= FieldX
	}
	if a.Y != b.Y {
		mask |= FieldY
	}
	if a.Heading != b.Heading {
		mask |= FieldHeading
	}
	if a.Mode != b.Mode {
		mask |= FieldMode
	}
	if a.Color != b.Color {
		mask |= FieldColor
	}
	if a.Health != b.Health {
		mask |= FieldHealth
	}
	return mask
}

func encodeFields(w *bitbuf.Writer, s state.State, mask uint64) {
	k := From(s)
	if mask&FieldX != 0 {
		w.WriteFloat32(k.X)
	}
	if mask&FieldY != 0 {
		w.WriteFloat32(k.Y)
	}
	if mask&FieldHeading != 0 {
		w.WriteFloat32(k.Heading)
	}
	if mask&FieldMode != 0 {
		w.WriteUint32(uint32(k.Mode), 8)
	}
	if mask&FieldColor != 0 {
		w.WriteUint32(k.Color, 32)
	}
	if mask&FieldHealth != 0 {
		w.WriteUint32(uint32(k.Health), 16)
	}
}

func decodeFields(r *bitbuf.Reader, s state.State, mask uint64) {
	k := From(s)
	if mask&FieldX != 0 {
		k.X = r.ReadFloat32()
	}
	if mask&FieldY != 0 {
		k.Y = r.ReadFloat32()
	}
	if mask&FieldHeading != 0 {
		k.Heading = r.ReadFloat32()
	}
	if mask&FieldMode != 0 {
		k.Mode = uint8(r.ReadUint32(8))
	}
	if mask&FieldColor != 0 {
		k.Color = r.ReadUint32(32)
	}
	if mask&FieldHealth != 0 {
		k.Health = uint16(r.ReadUint32(16))
	}
}

func apply(dst, src state.State, mask uint64) {
	d, s := From(dst), From(src)
	if mask&FieldX != 0 {
		d.X = s.X
	}
	if mask&FieldY != 0 {
		d.Y = s.Y
	}
	if mask&FieldHeading != 0 {
		d.Heading = s.Heading
	}
	if mask&FieldMode != 0 {
		d.Mode = s.Mode
	}
	if mask&FieldColor != 0 {
		d.Color = s.Color
	}
	if mask&FieldHealth != 0 {
		d.Health = s.Health
	}
}

// blend interpolates position linearly and heading along the shorter arc.
func blend(dst, from, to state.State, t float64) {
	d, a, b := From(dst), From(from), From(to)
	d.X = lerp(a.X, b.X, t)
	d.Y = lerp(a.Y, b.Y, t)
	d.Heading = WrapAngle(a.Heading + float32(float64(WrapAngle(b.Heading-a.Heading))*t))
}

func lerp(a, b float32, t float64) float32 {
	return a + float32(float64(b-a)*t)
}

// WrapAngle maps a into [-π, π).
func WrapAngle(a float32) float32 {
	wrapped := math.Mod(float64(a)+math.Pi, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	return float32(wrapped - math.Pi)
}
