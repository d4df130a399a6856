// Package entity binds a registered state type to the buffers that carry it
// across a link. An authority entity owns a working state and a history of
// captured records; a replica owns a dejitter window of received deltas and
// a smoothing buffer over it.
package entity

import (
	"ticksync/internal/buffer"
	"ticksync/internal/peer"
	"ticksync/internal/proto"
	"ticksync/internal/smooth"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

// Behavior drives an authority entity. Start runs once before the first
// Simulate call.
type Behavior interface {
	Start(e *Entity)
	Simulate(e *Entity, t tick.Tick, cmd *proto.Command)
}

// Role distinguishes the authoritative copy of an entity from a replica.
type Role uint8

const (
	Authority Role = iota
	Replica
)

func (r Role) String() string {
	if r == Replica {
		return "replica"
	}
	return "authority"
}

// Observer is notified of relevance changes.
type Observer func(e *Entity)

// Entity is one synchronized object. It is owned by exactly one World.
type Entity struct {
	id    state.EntityID
	typ   state.Type
	role  Role
	arena *state.Arena
	codec *state.Codec

	state    state.State
	behavior Behavior
	started  bool

	// ForceUpdates sends and records the state every tick even when no
	// field changed.
	ForceUpdates bool
	controller   peer.ID

	history  *buffer.History[*state.Record]
	incoming *buffer.Dejitter[*state.Delta]
	smoother *smooth.Buffer

	frozen     bool
	onFrozen   []Observer
	onUnfrozen []Observer
}

func newAuthority(a *state.Arena, id state.EntityID, typ state.Type, horizon int, b Behavior) *Entity {
	codec := a.MustCodec(typ)
	s, err := a.NewState(typ)
	if err != nil {
		panic(err)
	}
	return &Entity{
		id:       id,
		typ:      typ,
		role:     Authority,
		arena:    a,
		codec:    codec,
		state:    s,
		behavior: b,
		history:  buffer.NewHistory[*state.Record](horizon, a.FreeRecord),
	}
}

func newReplica(a *state.Arena, id state.EntityID, typ state.Type, horizon int) *Entity {
	incoming := buffer.NewDejitter[*state.Delta](horizon, buffer.ReplaceExisting, a.FreeDelta)
	return &Entity{
		id:       id,
		typ:      typ,
		role:     Replica,
		arena:    a,
		codec:    a.MustCodec(typ),
		incoming: incoming,
		smoother: smooth.New(a, typ, incoming),
	}
}

func (e *Entity) ID() state.EntityID  { return e.id }
func (e *Entity) Type() state.Type    { return e.typ }
func (e *Entity) Role() Role          { return e.role }
func (e *Entity) Codec() *state.Codec { return e.codec }

// State returns the working state on the authority and the current
// reconstructed state on a replica. Replicas return nil until the first
// full snapshot has been applied.
func (e *Entity) State() state.State {
	if e.role == Authority {
		return e.state
	}
	if r := e.smoother.Current(); r != nil {
		return r.State
	}
	return nil
}

// Current returns the newest reconstructed record of a replica, nil before
// the first full snapshot has been applied or on the authority.
func (e *Entity) Current() *state.Record {
	if e.role != Replica {
		return nil
	}
	return e.smoother.Current()
}

// Controller returns the peer whose commands drive the entity, zero if none.
func (e *Entity) Controller() peer.ID { return e.controller }

// SetController hands control to p. Zero removes the controller.
func (e *Entity) SetController(p peer.ID) { e.controller = p }

// SetBehavior replaces the behavior. A new behavior is started again.
func (e *Entity) SetBehavior(b Behavior) {
	e.behavior = b
	e.started = false
}

// Simulate advances the authority state by one tick.
func (e *Entity) Simulate(t tick.Tick, cmd *proto.Command) {
	if e.role != Authority || e.behavior == nil {
		return
	}
	if !e.started {
		e.started = true
		e.behavior.Start(e)
	}
	e.behavior.Simulate(e, t, cmd)
}

// Capture stores a record of the working state at t unless nothing changed
// since the previous record. It reports whether a record was stored.
func (e *Entity) Capture(t tick.Tick) bool {
	if e.role != Authority {
		return false
	}
	latest, _ := e.history.Latest()
	r := state.CreateRecord(e.arena, t, e.typ, e.state, latest, e.ForceUpdates)
	if r == nil {
		return false
	}
	if !e.history.Store(r) {
		e.arena.FreeRecord(r)
		return false
	}
	return true
}

// History returns the captured records, nil on a replica.
func (e *Entity) History() *buffer.History[*state.Record] { return e.history }

// LatestRecord returns the newest captured record.
func (e *Entity) LatestRecord() *state.Record {
	if e.history == nil {
		return nil
	}
	r, _ := e.history.Latest()
	return r
}

// BasisAt returns the record a destination that has seen t can decode
// against, nil if it has been evicted.
func (e *Entity) BasisAt(t tick.Tick) *state.Record {
	if e.history == nil || !t.IsValid() {
		return nil
	}
	r, ok := e.history.LatestAt(t)
	if !ok {
		return nil
	}
	return r
}

// StoreDelta files a received delta. Ownership passes to the entity on
// success; on failure the caller keeps it.
func (e *Entity) StoreDelta(d *state.Delta) bool {
	if e.role != Replica || d == nil || d.EntityID != e.id {
		return false
	}
	if d.IsFrozen != e.frozen && d.Tick >= e.incoming.Newest() {
		e.setFrozen(d.IsFrozen)
	}
	return e.incoming.Store(d)
}

// Incoming returns the received delta window, nil on the authority.
func (e *Entity) Incoming() *buffer.Dejitter[*state.Delta] { return e.incoming }

// HasReadyState reports whether a replica can produce a state at t.
func (e *Entity) HasReadyState(t tick.Tick) bool {
	if e.role != Replica {
		return e.state != nil
	}
	if e.smoother.Ready() {
		return true
	}
	d, ok := e.incoming.LatestAt(t)
	return ok && d.HasImmutableData && d.HasPayload()
}

// UpdateSmoothing refreshes the smoothing buffer for authoritative tick t.
func (e *Entity) UpdateSmoothing(t tick.Tick) state.State {
	if e.role != Replica {
		return e.state
	}
	return e.smoother.Update(t)
}

// Smoothed returns the blended replica state at realTick plus fraction.
// The returned state is reused by the next call.
func (e *Entity) Smoothed(realTick tick.Tick, fraction float64) state.State {
	if e.role != Replica {
		return e.state
	}
	return e.smoother.Smoothed(realTick, fraction)
}

// IsFrozen reports whether the entity is out of relevance.
func (e *Entity) IsFrozen() bool { return e.frozen }

// OnFrozen registers fn to run when the entity leaves relevance.
func (e *Entity) OnFrozen(fn Observer) {
	if fn != nil {
		e.onFrozen = append(e.onFrozen, fn)
	}
}

// OnUnfrozen registers fn to run when the entity re-enters relevance.
func (e *Entity) OnUnfrozen(fn Observer) {
	if fn != nil {
		e.onUnfrozen = append(e.onUnfrozen, fn)
	}
}

func (e *Entity) setFrozen(frozen bool) {
	if e.frozen == frozen {
		return
	}
	e.frozen = frozen
	observers := e.onUnfrozen
	if frozen {
		observers = e.onFrozen
	}
	for _, fn := range observers {
		fn(e)
	}
}

// Holds implements pool.Holder.
func (e *Entity) Holds(obj any) bool {
	if e == nil || obj == nil {
		return false
	}
	if e.state != nil && e.state == obj {
		return true
	}
	return e.history.Holds(obj) || e.incoming.Holds(obj) || e.smoother.Holds(obj)
}

// release returns every pooled object the entity holds.
func (e *Entity) release() {
	if e.history != nil {
		e.history.Clear()
	}
	if e.smoother != nil {
		e.smoother.Close()
	}
	if e.incoming != nil {
		e.incoming.Clear()
	}
	if e.state != nil {
		s := e.state
		e.state = nil
		e.arena.FreeState(e.typ, s)
	}
	e.onFrozen = nil
	e.onUnfrozen = nil
}
