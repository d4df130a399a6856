package entity

import (
	"errors"
	"fmt"

	"ticksync/internal/state"
	"ticksync/internal/tick"
)

var (
	// ErrDuplicateEntity reports an id already present in the world.
	ErrDuplicateEntity = errors.New("entity: duplicate id")
	// ErrNotFullSnapshot reports an adoption attempt from a partial delta.
	ErrNotFullSnapshot = errors.New("entity: adoption requires a full snapshot")
)

// IDAllocator hands out entity ids. Ids are never reused within a world.
type IDAllocator struct {
	next state.EntityID
}

// Next returns a fresh id. It panics when the id space is exhausted.
func (a *IDAllocator) Next() state.EntityID {
	a.next++
	if a.next == 0 {
		panic("entity: id space exhausted")
	}
	return a.next
}

// Reserve makes sure Next never returns id.
func (a *IDAllocator) Reserve(id state.EntityID) {
	if id > a.next {
		a.next = id
	}
}

// Config sizes the per-entity buffers.
type Config struct {
	Horizon int
}

// World is the sole owner of a host's entities. Iteration follows insertion
// order so simulation is deterministic.
type World struct {
	arena    *state.Arena
	horizon  int
	ids      IDAllocator
	entities map[state.EntityID]*Entity
	order    []state.EntityID
	tick     tick.Tick
}

// NewWorld constructs an empty world backed by arena.
func NewWorld(arena *state.Arena, cfg Config) *World {
	horizon := cfg.Horizon
	if horizon < 1 {
		horizon = 1
	}
	return &World{
		arena:    arena,
		horizon:  horizon,
		entities: make(map[state.EntityID]*Entity),
	}
}

// Arena returns the pools entities draw from.
func (w *World) Arena() *state.Arena { return w.arena }

// Tick returns the world's current tick.
func (w *World) Tick() tick.Tick { return w.tick }

// SetTick moves the world to t.
func (w *World) SetTick(t tick.Tick) { w.tick = t }

// Len returns the number of entities.
func (w *World) Len() int { return len(w.order) }

// Spawn creates an authority entity of type typ. The initial state is
// written by init, if provided, before the entity becomes visible.
func (w *World) Spawn(typ state.Type, behavior Behavior, init func(state.State)) (*Entity, error) {
	if _, err := w.arena.Codec(typ); err != nil {
		return nil, err
	}
	e := newAuthority(w.arena, w.ids.Next(), typ, w.horizon, behavior)
	if init != nil {
		init(e.state)
	}
	w.insert(e)
	return e, nil
}

// Adopt creates a replica from the first delta received for an unknown id.
// The delta must be a full snapshot; on success it is owned by the replica.
func (w *World) Adopt(d *state.Delta) (*Entity, error) {
	if d == nil || !d.HasImmutableData || !d.HasPayload() {
		return nil, ErrNotFullSnapshot
	}
	if _, ok := w.entities[d.EntityID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateEntity, d.EntityID)
	}
	if _, err := w.arena.Codec(d.Type); err != nil {
		return nil, err
	}
	e := newReplica(w.arena, d.EntityID, d.Type, w.horizon)
	if !e.StoreDelta(d) {
		return nil, fmt.Errorf("entity: replica %d refused its first delta", d.EntityID)
	}
	w.ids.Reserve(d.EntityID)
	w.insert(e)
	return e, nil
}

// Get returns the entity with id.
func (w *World) Get(id state.EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// TypeOf resolves an id to its registered type.
func (w *World) TypeOf(id state.EntityID) (state.Type, bool) {
	e, ok := w.entities[id]
	if !ok {
		return 0, false
	}
	return e.typ, true
}

// Each visits entities in insertion order until fn returns false.
func (w *World) Each(fn func(*Entity) bool) {
	for _, id := range w.order {
		e, ok := w.entities[id]
		if !ok {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// Remove deletes the entity and returns every pooled object it held.
func (w *World) Remove(id state.EntityID) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	delete(w.entities, id)
	for i, other := range w.order {
		if other == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.arena.Untrack(e)
	e.release()
	return true
}

// Clear removes every entity.
func (w *World) Clear() {
	for len(w.order) > 0 {
		w.Remove(w.order[len(w.order)-1])
	}
}

func (w *World) insert(e *Entity) {
	w.entities[e.id] = e
	w.order = append(w.order, e.id)
	w.arena.Track(e)
}
