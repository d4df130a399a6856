package proto

import (
	"fmt"

	"ticksync/internal/bitbuf"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

// ServerPacket travels from the authority to one client.
//
//	[senderTick][lastProcessedCommandTick]
//	[deltas: (entityId, span, frozen, [removed] | [payload, [immutable, type], bits])...]
//	[events: (id, kind, payload)...]
//
// Delta spans are relative to senderTick. Full snapshots carry their type
// tag; partial deltas are decoded with the type the receiver already knows.
type ServerPacket struct {
	SenderTick               tick.Tick
	LastProcessedCommandTick tick.Tick
	Deltas                   []*state.Delta
	Events                   []Event
}

// TypeResolver returns the type of an entity the receiver already tracks.
type TypeResolver func(id state.EntityID) (state.Type, bool)

// Encode packs p. Deltas older than the horizon are left out.
func (p *ServerPacket) Encode(l Layout, reg *state.Registry) ([]byte, error) {
	if !p.SenderTick.IsValid() {
		return nil, fmt.Errorf("%w: invalid sender tick", ErrMalformed)
	}
	enc := l.Span()
	w := bitbuf.NewWriter()
	w.WriteTick(p.SenderTick)
	w.WriteTick(p.LastProcessedCommandTick)

	written := 0
	for _, d := range p.Deltas {
		if written >= l.MaxDeltas {
			break
		}
		if d == nil || !d.Tick.IsValid() || d.Tick > p.SenderTick {
			continue
		}
		span := l.span(p.SenderTick, d.Tick)
		if !span.IsInRange() {
			continue
		}
		var codec *state.Codec
		if d.HasPayload() && !d.IsFrozen {
			c, err := reg.Lookup(d.Type)
			if err != nil {
				return nil, err
			}
			codec = c
		}
		w.WriteBool(true)
		w.WriteUint32(uint32(d.EntityID), l.EntityIDBits)
		w.WriteSpan(enc, span)
		w.WriteBool(d.IsFrozen)
		if d.IsFrozen {
			w.WriteBool(d.IsRemoved)
			written++
			continue
		}
		w.WriteBool(codec != nil)
		if codec != nil {
			w.WriteBool(d.HasImmutableData)
			if d.HasImmutableData {
				w.WriteUint32(uint32(d.Type), l.TypeBits)
			}
			state.EncodeDelta(w, codec, d)
		}
		written++
	}
	w.WriteBool(false)

	writeEvents(w, l, p.Events)
	return w.Bytes()
}

// DecodeServerPacket unpacks a packet written by Encode. Deltas are checked
// out of arena; on error every delta decoded so far is returned to it and
// the whole packet is rejected.
func DecodeServerPacket(l Layout, arena *state.Arena, resolve TypeResolver, data []byte) (*ServerPacket, error) {
	r := bitbuf.NewReader(data)
	p := &ServerPacket{
		SenderTick:               r.ReadTick(),
		LastProcessedCommandTick: r.ReadTick(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !p.SenderTick.IsValid() {
		return nil, fmt.Errorf("%w: invalid sender tick", ErrMalformed)
	}
	if err := p.readDeltas(r, l, arena, resolve); err != nil {
		p.Free(arena)
		return nil, err
	}
	events, err := readEvents(r, l)
	if err != nil {
		p.Free(arena)
		return nil, err
	}
	p.Events = events
	return p, nil
}

func (p *ServerPacket) readDeltas(r *bitbuf.Reader, l Layout, arena *state.Arena, resolve TypeResolver) error {
	enc := l.Span()
	if resolve == nil {
		resolve = func(state.EntityID) (state.Type, bool) { return 0, false }
	}
	for r.ReadBool() {
		if len(p.Deltas) >= l.MaxDeltas {
			return fmt.Errorf("%w: more than %d deltas", ErrMalformed, l.MaxDeltas)
		}
		id := state.EntityID(r.ReadUint32(l.EntityIDBits))
		span := r.ReadSpan(enc)
		frozen := r.ReadBool()
		if err := r.Err(); err != nil {
			return err
		}
		at := span.Resolve(p.SenderTick)
		if !at.IsValid() {
			return fmt.Errorf("%w: delta span %s", ErrMalformed, span)
		}

		d := arena.NewDelta()
		d.Tick = at
		d.EntityID = id
		d.IsFrozen = frozen
		p.Deltas = append(p.Deltas, d)
		typ, known := resolve(id)
		d.Type = typ
		if frozen {
			d.IsRemoved = r.ReadBool()
			if err := r.Err(); err != nil {
				return err
			}
			continue
		}
		hasPayload := r.ReadBool()
		full := hasPayload && r.ReadBool()
		if err := r.Err(); err != nil {
			return err
		}
		if full {
			d.HasImmutableData = true
			d.Type = state.Type(r.ReadUint32(l.TypeBits))
		} else if !known {
			return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
		}
		if !hasPayload {
			continue
		}
		codec, err := arena.Codec(d.Type)
		if err != nil {
			return err
		}
		s, err := arena.NewState(d.Type)
		if err != nil {
			return err
		}
		d.State = s
		state.DecodeDelta(r, codec, d)
		if err := r.Err(); err != nil {
			return err
		}
	}
	return r.Err()
}

// Free returns every delta in p to arena and empties the list.
func (p *ServerPacket) Free(arena *state.Arena) {
	if p == nil {
		return
	}
	for i, d := range p.Deltas {
		arena.FreeDelta(d)
		p.Deltas[i] = nil
	}
	p.Deltas = nil
}
