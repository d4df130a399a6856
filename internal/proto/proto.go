// Package proto defines the two packet layouts exchanged between an authority
// and its clients. Every width is derived from a Layout that both ends build
// from the same configuration; nothing on the wire is self-describing beyond
// the type tag carried by full snapshots.
package proto

import (
	"errors"
	"fmt"

	"ticksync/internal/bitbuf"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

var (
	// ErrTruncated reports a packet that ended mid-field.
	ErrTruncated = bitbuf.ErrTruncated
	// ErrUnknownEntity reports a partial delta for an entity the receiver
	// has never seen a full snapshot of.
	ErrUnknownEntity = errors.New("proto: unknown entity")
	// ErrUnknownType reports a type tag with no registered codec.
	ErrUnknownType = state.ErrUnknownType
	// ErrMalformed reports a structurally invalid packet.
	ErrMalformed = errors.New("proto: malformed packet")
)

// Layout fixes the bit widths and list limits of both packet kinds.
type Layout struct {
	Horizon       int
	EntityIDBits  uint8
	TypeBits      uint8
	PayloadBits   uint8
	EventKindBits uint8

	MaxCommands    int
	MaxViewEntries int
	MaxDeltas      int
	MaxEvents      int
}

// NewLayout returns a layout with the given horizon and widths and default
// list limits.
func NewLayout(horizon int, entityIDBits, typeBits uint8) Layout {
	return Layout{
		Horizon:        horizon,
		EntityIDBits:   entityIDBits,
		TypeBits:       typeBits,
		PayloadBits:    8,
		EventKindBits:  8,
		MaxCommands:    horizon,
		MaxViewEntries: 256,
		MaxDeltas:      256,
		MaxEvents:      16,
	}
}

// Span returns the encoder for tick spans under this layout.
func (l Layout) Span() tick.IntEncoder {
	return tick.SpanEncoder(l.Horizon)
}

// Validate reports the first width that cannot be encoded.
func (l Layout) Validate() error {
	if l.Horizon < 1 {
		return fmt.Errorf("%w: horizon %d", ErrMalformed, l.Horizon)
	}
	for name, bits := range map[string]uint8{
		"entity id": l.EntityIDBits,
		"type":      l.TypeBits,
		"payload":   l.PayloadBits,
		"event":     l.EventKindBits,
	} {
		if bits < 1 || bits > 32 {
			return fmt.Errorf("%w: %s width %d", ErrMalformed, name, bits)
		}
	}
	return nil
}

func (l Layout) span(latest, basis tick.Tick) tick.Span {
	return tick.NewSpan(latest, basis, l.Horizon)
}

// Command is one client input stamped with the client tick it was sampled
// on. The payload is opaque to the engine.
type Command struct {
	Tick    tick.Tick
	Payload []byte
}

// StampedTick returns the command tick.
func (c *Command) StampedTick() tick.Tick {
	return c.Tick
}

// References reports whether obj is c.
func (c *Command) References(obj any) bool {
	other, ok := obj.(*Command)
	return ok && c != nil && other == c
}

// Event is a discrete message from the authority. Reliable events carry a
// nonzero sequence id and are resent until acknowledged; unreliable events
// have ID zero and are sent once.
type Event struct {
	ID      uint32
	Kind    uint8
	Payload []byte
}

// Reliable reports whether e is sequenced.
func (e Event) Reliable() bool {
	return e.ID != 0
}

// ViewEntry acknowledges the newest tick received for an entity.
type ViewEntry struct {
	EntityID state.EntityID
	Tick     tick.Tick
}

func writeEvents(w *bitbuf.Writer, l Layout, events []Event) {
	for i, e := range events {
		if i >= l.MaxEvents {
			break
		}
		w.WriteBool(true)
		w.WriteUint32(e.ID, 32)
		w.WriteUint32(uint32(e.Kind), l.EventKindBits)
		w.WriteBytes(e.Payload, l.PayloadBits)
	}
	w.WriteBool(false)
}

func readEvents(r *bitbuf.Reader, l Layout) ([]Event, error) {
	var events []Event
	for r.ReadBool() {
		if len(events) >= l.MaxEvents {
			return nil, fmt.Errorf("%w: more than %d events", ErrMalformed, l.MaxEvents)
		}
		e := Event{
			ID:   r.ReadUint32(32),
			Kind: uint8(r.ReadUint32(l.EventKindBits)),
		}
		e.Payload = r.ReadBytes(l.PayloadBits)
		if err := r.Err(); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, r.Err()
}
