package state

import "ticksync/internal/tick"

// Delta is one entity update as produced by the authority for a specific
// destination. A nil State is a no-op marker ("still current") or, with
// IsFrozen, a freeze notice. A freeze notice with IsRemoved tells the
// destination the entity is gone for good.
type Delta struct {
	Tick             tick.Tick
	EntityID         EntityID
	Type             Type
	State            State
	Mask             uint64
	HasImmutableData bool
	IsFrozen         bool
	IsRemoved        bool
}

// StampedTick returns the delta tick.
func (d *Delta) StampedTick() tick.Tick {
	return d.Tick
}

// HasPayload reports whether d carries field data.
func (d *Delta) HasPayload() bool {
	return d.State != nil
}

// References reports whether obj is d or d's payload.
func (d *Delta) References(obj any) bool {
	if d == nil || obj == nil {
		return false
	}
	if other, ok := obj.(*Delta); ok {
		return other == d
	}
	return d.State != nil && d.State == obj
}

// DeltaInput describes the authority-side inputs for one destination.
type DeltaInput struct {
	Tick     tick.Tick
	EntityID EntityID
	Type     Type
	Current  State
	// Basis is the destination's acknowledged snapshot, nil if unknown.
	Basis *Record
	// ForController exposes controller-only fields.
	ForController bool
	// FirstUpdate forces a full snapshot for a destination that has never
	// seen the entity.
	FirstUpdate bool
	// ForceUpdates disables the unchanged-state marker.
	ForceUpdates bool
}

// CreateDelta applies the basis policy: full snapshot without a basis or on
// first contact, a payload-free marker when nothing changed, otherwise the
// dirty fields relative to the basis.
func CreateDelta(a *Arena, in DeltaInput) *Delta {
	codec := a.MustCodec(in.Type)
	d := a.NewDelta()
	d.Tick = in.Tick
	d.EntityID = in.EntityID
	d.Type = in.Type

	if in.Basis == nil || in.FirstUpdate {
		d.State = a.Clone(in.Type, in.Current)
		d.Mask = codec.EncodeMask(in.Current, nil, in.ForController)
		d.HasImmutableData = true
		return d
	}

	mask := codec.EncodeMask(in.Current, in.Basis.State, in.ForController)
	if mask == 0 && !in.ForceUpdates {
		return d
	}
	d.State = a.Clone(in.Type, in.Current)
	d.Mask = mask
	return d
}

// FreezeNotice builds a marker telling the destination the entity is out of
// relevance.
func FreezeNotice(a *Arena, t tick.Tick, id EntityID, typ Type) *Delta {
	d := a.NewDelta()
	d.Tick = t
	d.EntityID = id
	d.Type = typ
	d.IsFrozen = true
	return d
}

// RemovalNotice builds a freeze notice telling the destination to release its
// replica of a despawned entity.
func RemovalNotice(a *Arena, t tick.Tick, id EntityID, typ Type) *Delta {
	d := FreezeNotice(a, t, id, typ)
	d.IsRemoved = true
	return d
}
