package state

import "ticksync/internal/tick"

// Record is a snapshot of an entity state at a tick. A record is owned by
// exactly one buffer.
type Record struct {
	Tick  tick.Tick
	Type  Type
	State State
}

// StampedTick returns the record tick.
func (r *Record) StampedTick() tick.Tick {
	return r.Tick
}

// References reports whether obj is r or r's state.
func (r *Record) References(obj any) bool {
	if r == nil || obj == nil {
		return false
	}
	if rec, ok := obj.(*Record); ok {
		return rec == r
	}
	return r.State == obj
}

// CreateRecord captures cur at t. It returns nil when cur is unchanged since
// latest and forceUpdates is off, so unchanged ticks do not consume history.
func CreateRecord(a *Arena, t tick.Tick, typ Type, cur State, latest *Record, forceUpdates bool) *Record {
	tick.MustValid(t)
	if latest != nil && !forceUpdates {
		if a.MustCodec(typ).Compare(cur, latest.State) == 0 {
			return nil
		}
	}
	r := a.NewRecord(typ, cur)
	r.Tick = t
	return r
}
