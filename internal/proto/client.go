package proto

import (
	"fmt"

	"ticksync/internal/bitbuf"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

// ClientPacket travels from a controller to the authority.
//
//	[senderTick][lastReceivedServerTick][lastReceivedEventID]
//	[commands: (span, payload)...][view: (entityId, span)...]
//
// Command spans are relative to senderTick; view spans are relative to
// lastReceivedServerTick.
type ClientPacket struct {
	SenderTick             tick.Tick
	LastReceivedServerTick tick.Tick
	LastReceivedEventID    uint32
	Commands               []*Command
	View                   []ViewEntry
}

// Encode packs p. Commands older than the horizon and view entries that no
// longer fit a span are left out.
func (p *ClientPacket) Encode(l Layout) ([]byte, error) {
	if !p.SenderTick.IsValid() {
		return nil, fmt.Errorf("%w: invalid sender tick", ErrMalformed)
	}
	enc := l.Span()
	w := bitbuf.NewWriter()
	w.WriteTick(p.SenderTick)
	w.WriteTick(p.LastReceivedServerTick)
	w.WriteUint32(p.LastReceivedEventID, 32)

	written := 0
	for _, cmd := range p.Commands {
		if written >= l.MaxCommands {
			break
		}
		if cmd == nil || !cmd.Tick.IsValid() || cmd.Tick > p.SenderTick {
			continue
		}
		span := l.span(p.SenderTick, cmd.Tick)
		if !span.IsInRange() {
			continue
		}
		w.WriteBool(true)
		w.WriteSpan(enc, span)
		w.WriteBytes(cmd.Payload, l.PayloadBits)
		written++
	}
	w.WriteBool(false)

	written = 0
	if p.LastReceivedServerTick.IsValid() {
		for _, entry := range p.View {
			if written >= l.MaxViewEntries {
				break
			}
			if !entry.Tick.IsValid() || entry.Tick > p.LastReceivedServerTick {
				continue
			}
			span := l.span(p.LastReceivedServerTick, entry.Tick)
			if !span.IsInRange() {
				continue
			}
			w.WriteBool(true)
			w.WriteUint32(uint32(entry.EntityID), l.EntityIDBits)
			w.WriteSpan(enc, span)
			written++
		}
	}
	w.WriteBool(false)
	return w.Bytes()
}

// DecodeClientPacket unpacks a packet written by Encode.
func DecodeClientPacket(l Layout, data []byte) (*ClientPacket, error) {
	enc := l.Span()
	r := bitbuf.NewReader(data)
	p := &ClientPacket{
		SenderTick:             r.ReadTick(),
		LastReceivedServerTick: r.ReadTick(),
		LastReceivedEventID:    r.ReadUint32(32),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !p.SenderTick.IsValid() {
		return nil, fmt.Errorf("%w: invalid sender tick", ErrMalformed)
	}

	for r.ReadBool() {
		if len(p.Commands) >= l.MaxCommands {
			return nil, fmt.Errorf("%w: more than %d commands", ErrMalformed, l.MaxCommands)
		}
		span := r.ReadSpan(enc)
		payload := r.ReadBytes(l.PayloadBits)
		if err := r.Err(); err != nil {
			return nil, err
		}
		if !span.IsInRange() || span.Raw() > p.SenderTick.Sub(tick.Start) {
			return nil, fmt.Errorf("%w: command span %s", ErrMalformed, span)
		}
		p.Commands = append(p.Commands, &Command{
			Tick:    span.Resolve(p.SenderTick),
			Payload: payload,
		})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	for r.ReadBool() {
		if len(p.View) >= l.MaxViewEntries {
			return nil, fmt.Errorf("%w: more than %d view entries", ErrMalformed, l.MaxViewEntries)
		}
		id := state.EntityID(r.ReadUint32(l.EntityIDBits))
		span := r.ReadSpan(enc)
		if err := r.Err(); err != nil {
			return nil, err
		}
		if !p.LastReceivedServerTick.IsValid() || !span.IsInRange() ||
			span.Raw() > p.LastReceivedServerTick.Sub(tick.Start) {
			return nil, fmt.Errorf("%w: view span %s", ErrMalformed, span)
		}
		p.View = append(p.View, ViewEntry{
			EntityID: id,
			Tick:     span.Resolve(p.LastReceivedServerTick),
		})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return p, nil
}
