package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync/internal/entity"
	"ticksync/internal/kinematic"
	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

func newWorld(t *testing.T) *entity.World {
	t.Helper()
	reg := state.NewRegistry()
	require.NoError(t, kinematic.Register(reg))
	return entity.NewWorld(state.NewArena(reg, true), entity.Config{Horizon: 4})
}

func assertDrained(t *testing.T, w *entity.World) {
	t.Helper()
	records, deltas, states := w.Arena().Live()
	assert.Zero(t, records, "records")
	assert.Zero(t, deltas, "deltas")
	assert.Zero(t, states, "states")
}

func fullDelta(w *entity.World, id state.EntityID, at uint32, x float32) *state.Delta {
	return state.CreateDelta(w.Arena(), state.DeltaInput{
		Tick:     tick.FromRaw(at),
		EntityID: id,
		Type:     kinematic.Type,
		Current:  &kinematic.State{X: x, Color: 5},
	})
}

func TestWorldSpawnOrderAndRemove(t *testing.T) {
	w := newWorld(t)
	var ids []state.EntityID
	for i := 0; i < 3; i++ {
		e, err := w.Spawn(kinematic.Type, nil, func(s state.State) {
			kinematic.From(s).X = float32(i)
		})
		require.NoError(t, err)
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []state.EntityID{1, 2, 3}, ids)

	_, err := w.Spawn(99, nil, nil)
	assert.ErrorIs(t, err, state.ErrUnknownType)

	require.True(t, w.Remove(2))
	assert.False(t, w.Remove(2))
	var order []state.EntityID
	w.Each(func(e *entity.Entity) bool {
		order = append(order, e.ID())
		return true
	})
	assert.Equal(t, []state.EntityID{1, 3}, order)

	next, err := w.Spawn(kinematic.Type, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, state.EntityID(4), next.ID(), "ids are not reused")

	w.Clear()
	assert.Zero(t, w.Len())
	assertDrained(t, w)
}

func TestCaptureSkipsUnchangedState(t *testing.T) {
	w := newWorld(t)
	e, err := w.Spawn(kinematic.Type, nil, nil)
	require.NoError(t, err)

	require.True(t, e.Capture(tick.FromRaw(1)))
	assert.False(t, e.Capture(tick.FromRaw(2)))
	kinematic.From(e.State()).X = 4
	require.True(t, e.Capture(tick.FromRaw(3)))

	assert.Equal(t, tick.FromRaw(3), e.LatestRecord().Tick)
	assert.Equal(t, tick.FromRaw(1), e.BasisAt(tick.FromRaw(2)).Tick)
	assert.Nil(t, e.BasisAt(tick.Invalid))

	e.ForceUpdates = true
	require.True(t, e.Capture(tick.FromRaw(4)))
	assert.Equal(t, 3, e.History().Len())

	// Records older than the horizon are released.
	require.True(t, e.Capture(tick.FromRaw(5)))
	require.True(t, e.Capture(tick.FromRaw(6)))
	assert.Nil(t, e.BasisAt(tick.FromRaw(2)))

	w.Clear()
	assertDrained(t, w)
}

type countingBehavior struct {
	starts, steps int
}

func (b *countingBehavior) Start(*entity.Entity) { b.starts++ }

func (b *countingBehavior) Simulate(*entity.Entity, tick.Tick, *proto.Command) { b.steps++ }

func TestBehaviorStartsOnce(t *testing.T) {
	w := newWorld(t)
	b := &countingBehavior{}
	e, err := w.Spawn(kinematic.Type, b, nil)
	require.NoError(t, err)
	for i := uint32(0); i < 3; i++ {
		e.Simulate(tick.FromRaw(i), nil)
	}
	assert.Equal(t, 1, b.starts)
	assert.Equal(t, 3, b.steps)

	e.SetBehavior(b)
	e.Simulate(tick.FromRaw(3), nil)
	assert.Equal(t, 2, b.starts)
	w.Clear()
}

func TestAdoptRequiresFullSnapshot(t *testing.T) {
	w := newWorld(t)

	partial := w.Arena().NewDelta()
	partial.Tick = tick.FromRaw(1)
	partial.EntityID = 7
	partial.Type = kinematic.Type
	_, err := w.Adopt(partial)
	assert.ErrorIs(t, err, entity.ErrNotFullSnapshot)
	w.Arena().FreeDelta(partial)

	e, err := w.Adopt(fullDelta(w, 7, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, entity.Replica, e.Role())
	typ, ok := w.TypeOf(7)
	require.True(t, ok)
	assert.Equal(t, kinematic.Type, typ)

	dup := fullDelta(w, 7, 2, 3)
	_, err = w.Adopt(dup)
	assert.ErrorIs(t, err, entity.ErrDuplicateEntity)
	w.Arena().FreeDelta(dup)

	spawned, err := w.Spawn(kinematic.Type, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, spawned.ID(), state.EntityID(7))

	w.Clear()
	assertDrained(t, w)
}

func TestReplicaSmoothsReceivedDeltas(t *testing.T) {
	w := newWorld(t)
	e, err := w.Adopt(fullDelta(w, 3, 10, 0))
	require.NoError(t, err)

	assert.False(t, e.HasReadyState(tick.FromRaw(9)))
	assert.True(t, e.HasReadyState(tick.FromRaw(10)))
	assert.Nil(t, e.State())

	require.True(t, e.StoreDelta(fullDelta(w, 3, 12, 10)))
	foreign := fullDelta(w, 4, 12, 10)
	assert.False(t, e.StoreDelta(foreign))
	w.Arena().FreeDelta(foreign)

	cur := kinematic.From(e.UpdateSmoothing(tick.FromRaw(10)))
	require.NotNil(t, cur)
	assert.Equal(t, float32(0), cur.X)
	assert.Equal(t, uint32(5), cur.Color)

	mid := kinematic.From(e.Smoothed(tick.FromRaw(11), 0))
	assert.InDelta(t, 5, mid.X, 1e-5)

	w.Clear()
	assertDrained(t, w)
}

func TestFreezeObservers(t *testing.T) {
	w := newWorld(t)
	e, err := w.Adopt(fullDelta(w, 1, 1, 0))
	require.NoError(t, err)

	var frozen, unfrozen int
	e.OnFrozen(func(*entity.Entity) { frozen++ })
	e.OnUnfrozen(func(*entity.Entity) { unfrozen++ })

	notice := state.FreezeNotice(w.Arena(), tick.FromRaw(2), 1, kinematic.Type)
	require.True(t, e.StoreDelta(notice))
	assert.True(t, e.IsFrozen())
	assert.Equal(t, 1, frozen)

	require.True(t, e.StoreDelta(fullDelta(w, 1, 3, 1)))
	assert.False(t, e.IsFrozen())
	assert.Equal(t, 1, unfrozen)

	// A late notice for an older tick does not flip the status.
	late := state.FreezeNotice(w.Arena(), tick.FromRaw(2), 1, kinematic.Type)
	require.True(t, e.StoreDelta(late))
	assert.False(t, e.IsFrozen())
	assert.Equal(t, 1, frozen)

	w.Clear()
	assertDrained(t, w)
}
