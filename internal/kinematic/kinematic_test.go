package kinematic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync/internal/bitbuf"
	"ticksync/internal/entity"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

func newCodec(t *testing.T) *state.Codec {
	t.Helper()
	reg := state.NewRegistry()
	require.NoError(t, Register(reg))
	codec, err := reg.Lookup(Type)
	require.NoError(t, err)
	return codec
}

func TestCodecHidesHealthFromObservers(t *testing.T) {
	codec := newCodec(t)
	cur := &State{X: 1, Y: 2, Heading: 0.5, Mode: 1, Color: 0xff00ff, Health: 42}

	for _, controller := range []bool{true, false} {
		w := bitbuf.NewWriter()
		require.True(t, state.Encode(w, codec, cur, nil, controller))
		data, err := w.Bytes()
		require.NoError(t, err)

		got := &State{}
		mask := state.Decode(bitbuf.NewReader(data), codec, got, nil)
		if controller {
			assert.Equal(t, *cur, *got)
			assert.NotZero(t, mask&FieldHealth)
		} else {
			assert.Zero(t, got.Health)
			assert.Equal(t, cur.Color, got.Color)
		}
	}
}

func TestCodecPartialExcludesColor(t *testing.T) {
	codec := newCodec(t)
	basis := &State{X: 1, Color: 7}
	cur := &State{X: 3, Color: 9}
	assert.Equal(t, uint64(FieldX), codec.EncodeMask(cur, basis, true))
}

func TestBlendTakesShortArc(t *testing.T) {
	codec := newCodec(t)
	from := &State{X: 0, Y: 10, Heading: 3, Mode: 1}
	to := &State{X: 10, Y: 20, Heading: -3, Mode: 2}
	dst := &State{Mode: 1}

	codec.Blend(dst, from, to, 0.5)
	assert.InDelta(t, 5, dst.X, 1e-5)
	assert.InDelta(t, 15, dst.Y, 1e-5)
	assert.InDelta(t, math.Pi, math.Abs(float64(dst.Heading)), 1e-3, "midpoint crosses ±π")
	assert.Equal(t, uint8(1), dst.Mode, "mode is never blended")
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0, WrapAngle(2*math.Pi), 1e-5)
	assert.InDelta(t, -math.Pi/2, WrapAngle(3*math.Pi/2), 1e-5)
	assert.InDelta(t, math.Pi/2, WrapAngle(-3*math.Pi/2), 1e-5)
}

func TestInputRoundTrip(t *testing.T) {
	in := Input{Turn: -5, Boost: true}
	assert.Equal(t, in, DecodeInput(EncodeInput(in)))
	assert.Equal(t, Input{}, DecodeInput(nil))
}

func TestOrbitAdvances(t *testing.T) {
	reg := state.NewRegistry()
	require.NoError(t, Register(reg))
	world := entity.NewWorld(state.NewArena(reg, true), entity.Config{Horizon: 8})

	orbit := &Orbit{Radius: 10, Speed: math.Pi / 2, Color: 3}
	e, err := world.Spawn(Type, orbit, nil)
	require.NoError(t, err)

	e.Simulate(tick.Start, nil)
	k := From(e.State())
	assert.InDelta(t, 0, k.X, 1e-4)
	assert.InDelta(t, 10, k.Y, 1e-4)
	assert.Equal(t, uint32(3), k.Color)
	assert.Equal(t, uint16(100), k.Health)

	e.Simulate(tick.Start.Next(), &proto.Command{Payload: EncodeInput(Input{Boost: true})})
	assert.InDelta(t, 0, k.X, 1e-4)
	assert.InDelta(t, -10, k.Y, 1e-4, "boost doubles the step to a half turn")
	assert.Equal(t, uint8(1), k.Mode)

	world.Clear()
	_, _, live := world.Arena().Live()
	assert.Zero(t, live)
}
