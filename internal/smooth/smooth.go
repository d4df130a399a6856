// Package smooth turns the discrete deltas held in a dejitter buffer into a
// continuous state for any sub-tick instant.
package smooth

import (
	"ticksync/internal/buffer"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

// Buffer caches the previous, current and next reconstructed records for one
// entity. All three records and the scratch output are owned by the buffer.
type Buffer struct {
	arena  *state.Arena
	codec  *state.Codec
	source *buffer.Dejitter[*state.Delta]

	prev *state.Record
	cur  *state.Record
	next *state.Record

	scratch state.State
}

// New constructs a smoothing buffer reading from source.
func New(arena *state.Arena, typ state.Type, source *buffer.Dejitter[*state.Delta]) *Buffer {
	return &Buffer{
		arena:  arena,
		codec:  arena.MustCodec(typ),
		source: source,
	}
}

// Ready reports whether a current record exists.
func (b *Buffer) Ready() bool {
	return b != nil && b.cur != nil
}

// Current returns the current authoritative record, nil before the first
// full snapshot arrives.
func (b *Buffer) Current() *state.Record {
	if b == nil {
		return nil
	}
	return b.cur
}

// Next returns the cached future record, if any.
func (b *Buffer) Next() *state.Record {
	if b == nil {
		return nil
	}
	return b.next
}

// Update refreshes the cached records for the authoritative tick t and
// returns the current state. The result is nil until a delta carrying
// immutable data has been seen.
func (b *Buffer) Update(t tick.Tick) state.State {
	if b == nil {
		return nil
	}
	curDelta, nextDelta, hasCur, hasNext := b.source.RangeAt(t)

	// The old next may have been superseded by a late arrival.
	b.free(&b.next)

	if !hasCur {
		return b.currentState()
	}
	if b.cur == nil {
		if !curDelta.HasImmutableData || !curDelta.HasPayload() {
			return nil
		}
		b.initialize(curDelta)
	}
	if b.cur.Tick < curDelta.Tick {
		b.free(&b.prev)
		b.prev = b.cur
		b.cur = b.compose(curDelta)
	}
	if hasNext && nextDelta.Tick > b.cur.Tick {
		b.next = b.compose(nextDelta)
	}
	return b.cur.State
}

// Smoothed writes the blended state for realTick plus fraction of a tick into
// the scratch state and returns it. With a next record this interpolates
// between cur and next; with only a prev record it extrapolates the prev→cur
// trend past cur. The returned state is reused by the next call.
func (b *Buffer) Smoothed(realTick tick.Tick, fraction float64) state.State {
	if b == nil || b.cur == nil {
		return nil
	}
	b.codec.Copy(b.scratch, b.cur.State)
	if b.codec.Blend == nil || !realTick.IsValid() {
		return b.scratch
	}
	switch {
	case b.next != nil:
		b.codec.Blend(b.scratch, b.cur.State, b.next.State, interp(b.cur.Tick, b.next.Tick, realTick, fraction))
	case b.prev != nil:
		b.codec.Blend(b.scratch, b.prev.State, b.cur.State, interp(b.prev.Tick, b.cur.Tick, realTick, fraction))
	}
	return b.scratch
}

// Close releases every record and the scratch state.
func (b *Buffer) Close() {
	if b == nil {
		return
	}
	b.free(&b.prev)
	b.free(&b.cur)
	b.free(&b.next)
	if b.scratch != nil {
		s := b.scratch
		b.scratch = nil
		b.arena.FreeState(b.codec.Type, s)
	}
}

// Holds reports whether obj is one of the cached records or the scratch.
func (b *Buffer) Holds(obj any) bool {
	if b == nil || obj == nil {
		return false
	}
	if b.scratch != nil && b.scratch == obj {
		return true
	}
	return b.prev.References(obj) || b.cur.References(obj) || b.next.References(obj)
}

func (b *Buffer) initialize(first *state.Delta) {
	b.scratch = b.arena.Clone(b.codec.Type, first.State)
	b.cur = b.arena.NewRecord(b.codec.Type, first.State)
	b.cur.Tick = first.Tick
}

// compose copies cur and overlays d.
func (b *Buffer) compose(d *state.Delta) *state.Record {
	r := b.arena.NewRecord(b.codec.Type, b.cur.State)
	r.Tick = d.Tick
	state.ApplyDelta(b.codec, r.State, d)
	return r
}

func (b *Buffer) free(slot **state.Record) {
	r := *slot
	if r == nil {
		return
	}
	*slot = nil
	b.arena.FreeRecord(r)
}

func (b *Buffer) currentState() state.State {
	if b.cur == nil {
		return nil
	}
	return b.cur.State
}

// interp returns the position of realTick+fraction between a and b, where 0
// is a and 1 is b. Values outside [0,1] extrapolate.
func interp(a, b, realTick tick.Tick, fraction float64) float64 {
	span := b.Sub(a)
	if span <= 0 {
		return 0
	}
	return (float64(realTick.Sub(a)) + fraction) / float64(span)
}
