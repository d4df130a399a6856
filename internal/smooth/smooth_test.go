package smooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync/internal/bitbuf"
	"ticksync/internal/buffer"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

const pointType state.Type = 1

type point struct {
	X    float32
	Mode uint8
}

func pointCodec() state.Codec {
	return state.Codec{
		Type:   pointType,
		Name:   "point",
		Fields: 2,
		New:    func() state.State { return &point{} },
		Reset:  func(s state.State) { *s.(*point) = point{} },
		Copy:   func(dst, src state.State) { *dst.(*point) = *src.(*point) },
		Compare: func(cur, basis state.State) uint64 {
			a, b := cur.(*point), basis.(*point)
			var mask uint64
			if a.X != b.X {
				mask |= 1
			}
			if a.Mode != b.Mode {
				mask |= 2
			}
			return mask
		},
		EncodeFields: func(w *bitbuf.Writer, s state.State, mask uint64) {
			p := s.(*point)
			if mask&1 != 0 {
				w.WriteFloat32(p.X)
			}
			if mask&2 != 0 {
				w.WriteUint32(uint32(p.Mode), 8)
			}
		},
		DecodeFields: func(r *bitbuf.Reader, s state.State, mask uint64) {
			p := s.(*point)
			if mask&1 != 0 {
				p.X = r.ReadFloat32()
			}
			if mask&2 != 0 {
				p.Mode = uint8(r.ReadUint32(8))
			}
		},
		Apply: func(dst, src state.State, mask uint64) {
			d, s := dst.(*point), src.(*point)
			if mask&1 != 0 {
				d.X = s.X
			}
			if mask&2 != 0 {
				d.Mode = s.Mode
			}
		},
		Blend: func(dst, from, to state.State, t float64) {
			d, a, b := dst.(*point), from.(*point), to.(*point)
			d.X = a.X + float32(t)*(b.X-a.X)
		},
	}
}

type fixture struct {
	arena  *state.Arena
	source *buffer.Dejitter[*state.Delta]
	smooth *Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := state.NewRegistry()
	require.NoError(t, reg.Register(pointCodec()))
	arena := state.NewArena(reg, true)
	source := buffer.NewDejitter[*state.Delta](16, buffer.ReplaceExisting, arena.FreeDelta)
	f := &fixture{arena: arena, source: source, smooth: New(arena, pointType, source)}
	arena.Track(source)
	arena.Track(f.smooth)
	return f
}

// receive stores a delta the way a client decodes one off the wire.
func (f *fixture) receive(t *testing.T, n uint32, cur, basis *point) {
	t.Helper()
	in := state.DeltaInput{Tick: tick.FromRaw(n), EntityID: 1, Type: pointType, Current: cur}
	if basis != nil {
		in.Basis = &state.Record{State: basis}
	}
	require.True(t, f.source.Store(state.CreateDelta(f.arena, in)))
}

func (f *fixture) close() {
	f.smooth.Close()
	f.source.Clear()
}

func TestSmoothedInterpolatesBetweenCurAndNext(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, &point{X: 0, Mode: 1}, nil)
	f.receive(t, 12, &point{X: 10, Mode: 2}, &point{X: 0, Mode: 1})

	cur := f.smooth.Update(tick.FromRaw(10))
	require.NotNil(t, cur)
	require.NotNil(t, f.smooth.Next())
	assert.Equal(t, tick.FromRaw(12), f.smooth.Next().Tick)

	out := f.smooth.Smoothed(tick.FromRaw(10), 0.5).(*point)
	assert.InDelta(t, 2.5, out.X, 1e-5)
	assert.Equal(t, uint8(1), out.Mode, "discrete fields snap to cur")

	f.close()
}

func TestSmoothedExtrapolatesFromPrev(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, &point{X: 0}, nil)
	f.receive(t, 12, &point{X: 10}, &point{X: 0})

	f.smooth.Update(tick.FromRaw(10))
	f.smooth.Update(tick.FromRaw(12))
	require.Nil(t, f.smooth.Next())
	assert.Equal(t, tick.FromRaw(12), f.smooth.Current().Tick)

	out := f.smooth.Smoothed(tick.FromRaw(12), 1).(*point)
	assert.InDelta(t, 15, out.X, 1e-5)

	f.close()
}

func TestUpdateWaitsForFullSnapshot(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 4, &point{X: 3}, &point{X: 1})

	assert.Nil(t, f.smooth.Update(tick.FromRaw(4)))
	assert.False(t, f.smooth.Ready())
	assert.Nil(t, f.smooth.Smoothed(tick.FromRaw(4), 0))

	f.close()
}

func TestUpdateComposesPartialsAndNoOpMarkers(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 1, &point{X: 1, Mode: 7}, nil)
	f.receive(t, 2, &point{X: 5, Mode: 7}, &point{X: 1, Mode: 7})
	f.receive(t, 3, &point{X: 5, Mode: 7}, &point{X: 5, Mode: 7})

	f.smooth.Update(tick.FromRaw(1))
	f.smooth.Update(tick.FromRaw(2))
	got := f.smooth.Update(tick.FromRaw(3)).(*point)
	assert.Equal(t, point{X: 5, Mode: 7}, *got)
	assert.Equal(t, tick.FromRaw(3), f.smooth.Current().Tick)

	// Holding steady with no newer data leaves the cache unchanged.
	again := f.smooth.Update(tick.FromRaw(9)).(*point)
	assert.Equal(t, point{X: 5, Mode: 7}, *again)

	f.close()
}

func TestCloseReturnsEverything(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10, &point{X: 0}, nil)
	f.receive(t, 11, &point{X: 1}, &point{X: 0})
	f.receive(t, 12, &point{X: 2}, &point{X: 1})
	f.smooth.Update(tick.FromRaw(10))
	f.smooth.Update(tick.FromRaw(11))
	f.smooth.Smoothed(tick.FromRaw(11), 0.25)

	f.close()
	records, deltas, states := f.arena.Live()
	assert.Zero(t, records)
	assert.Zero(t, deltas)
	assert.Zero(t, states)
}
