package kinematic

import (
	"math"

	"ticksync/internal/entity"
	"ticksync/internal/proto"
	"ticksync/internal/tick"
)

// Input is the command payload a controller sends to steer an orbit.
type Input struct {
	// Turn adjusts the angular speed in hundredths of a radian per tick.
	Turn  int8
	Boost bool
}

// EncodeInput packs in into a command payload.
func EncodeInput(in Input) []byte {
	var flags byte
	if in.Boost {
		flags = 1
	}
	return []byte{byte(in.Turn), flags}
}

// DecodeInput unpacks a command payload. Short payloads decode as zero input.
func DecodeInput(payload []byte) Input {
	if len(payload) < 2 {
		return Input{}
	}
	return Input{Turn: int8(payload[0]), Boost: payload[1]&1 != 0}
}

// Orbit moves an entity around a fixed center at a constant angular speed.
type Orbit struct {
	CenterX, CenterY float32
	Radius           float32
	// Speed is in radians per tick.
	Speed float64
	Phase float64
	Color uint32
}

var _ entity.Behavior = (*Orbit)(nil)

// Start places the entity on its orbit and stamps the immutable color.
func (o *Orbit) Start(e *entity.Entity) {
	k := From(e.State())
	k.Color = o.Color
	if k.Health == 0 {
		k.Health = 100
	}
	o.place(k)
}

// Simulate advances the orbit by one tick, steered by cmd when present.
func (o *Orbit) Simulate(e *entity.Entity, _ tick.Tick, cmd *proto.Command) {
	k := From(e.State())
	speed := o.Speed
	k.Mode = 0
	if cmd != nil {
		in := DecodeInput(cmd.Payload)
		speed += float64(in.Turn) / 100
		if in.Boost {
			speed *= 2
			k.Mode = 1
		}
	}
	o.Phase = math.Mod(o.Phase+speed, 2*math.Pi)
	o.place(k)
}

func (o *Orbit) place(k *State) {
	sin, cos := math.Sincos(o.Phase)
	k.X = o.CenterX + o.Radius*float32(cos)
	k.Y = o.CenterY + o.Radius*float32(sin)
	k.Heading = WrapAngle(float32(o.Phase + math.Pi/2))
}
