package state

import (
	"fmt"

	"ticksync/internal/pool"
)

// Arena owns the pooled states, records and deltas of one process. Objects
// are checked out by whichever buffer will hold them and returned when that
// buffer evicts them.
type Arena struct {
	registry *Registry
	checked  bool
	states   map[Type]*pool.Pool[State]
	records  *pool.Pool[*Record]
	deltas   *pool.Pool[*Delta]
}

// NewArena builds pools for every type in reg. With checked set, every
// return is verified against the holders registered through Track.
func NewArena(reg *Registry, checked bool) *Arena {
	a := &Arena{
		registry: reg,
		checked:  checked,
		states:   make(map[Type]*pool.Pool[State]),
	}
	for _, t := range reg.Types() {
		codec, _ := reg.Lookup(t)
		a.states[t] = pool.New(pool.Options[State]{
			Name:    "state:" + codec.Name,
			New:     codec.New,
			Reset:   codec.Reset,
			Checked: checked,
		})
	}
	a.records = pool.New(pool.Options[*Record]{
		Name:    "record",
		New:     func() *Record { return &Record{} },
		Reset:   func(r *Record) { *r = Record{} },
		Checked: checked,
	})
	a.deltas = pool.New(pool.Options[*Delta]{
		Name:    "delta",
		New:     func() *Delta { return &Delta{} },
		Reset:   func(d *Delta) { *d = Delta{} },
		Checked: checked,
	})
	return a
}

// Registry returns the codec table the arena was built from.
func (a *Arena) Registry() *Registry {
	return a.registry
}

// Codec looks up the codec for t.
func (a *Arena) Codec(t Type) (*Codec, error) {
	return a.registry.Lookup(t)
}

// MustCodec looks up the codec for t and panics if it is missing.
func (a *Arena) MustCodec(t Type) *Codec {
	codec, err := a.registry.Lookup(t)
	if err != nil {
		panic(err)
	}
	return codec
}

// NewState checks out a reset state of type t.
func (a *Arena) NewState(t Type) (State, error) {
	p, ok := a.states[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return p.Get(), nil
}

// Clone checks out an independent copy of s.
func (a *Arena) Clone(t Type, s State) State {
	dst, err := a.NewState(t)
	if err != nil {
		panic(err)
	}
	a.MustCodec(t).Copy(dst, s)
	return dst
}

// FreeState returns s to its pool.
func (a *Arena) FreeState(t Type, s State) {
	if s == nil {
		return
	}
	p, ok := a.states[t]
	if !ok {
		panic(fmt.Sprintf("state: free of unknown type %d", t))
	}
	p.Put(s)
}

// NewRecord checks out a record holding a copy of s.
func (a *Arena) NewRecord(t Type, s State) *Record {
	r := a.records.Get()
	r.Type = t
	r.State = a.Clone(t, s)
	return r
}

// FreeRecord returns r and its state.
func (a *Arena) FreeRecord(r *Record) {
	if r == nil {
		return
	}
	s := r.State
	r.State = nil
	a.FreeState(r.Type, s)
	a.records.Put(r)
}

// NewDelta checks out an empty delta.
func (a *Arena) NewDelta() *Delta {
	return a.deltas.Get()
}

// FreeDelta returns d and its payload.
func (a *Arena) FreeDelta(d *Delta) {
	if d == nil {
		return
	}
	s := d.State
	d.State = nil
	if s != nil {
		a.FreeState(d.Type, s)
	}
	a.deltas.Put(d)
}

// Track registers a holder with every pool so returns can be verified.
func (a *Arena) Track(h pool.Holder) {
	if !a.checked || h == nil {
		return
	}
	for _, p := range a.states {
		p.Track(h)
	}
	a.records.Track(h)
	a.deltas.Track(h)
}

// Untrack removes a holder registered with Track.
func (a *Arena) Untrack(h pool.Holder) {
	if !a.checked || h == nil {
		return
	}
	for _, p := range a.states {
		p.Untrack(h)
	}
	a.records.Untrack(h)
	a.deltas.Untrack(h)
}

// Live reports the number of checked-out records, deltas and states.
func (a *Arena) Live() (records, deltas, states int) {
	records = a.records.Stats().Live
	deltas = a.deltas.Stats().Live
	for _, p := range a.states {
		states += p.Stats().Live
	}
	return records, deltas, states
}
