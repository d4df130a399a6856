package proto

import (
	"bytes"
	"errors"
	"testing"

	"ticksync/internal/bitbuf"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

const counterType state.Type = 2

type counter struct {
	N    uint32
	Name uint8
}

func counterCodec() state.Codec {
	return state.Codec{
		Type:          counterType,
		Name:          "counter",
		Fields:        2,
		ImmutableMask: 2,
		New:           func() state.State { return &counter{} },
		Reset:         func(s state.State) { *s.(*counter) = counter{} },
		Copy:          func(dst, src state.State) { *dst.(*counter) = *src.(*counter) },
		Compare: func(cur, basis state.State) uint64 {
			a, b := cur.(*counter), basis.(*counter)
			var mask uint64
			if a.N != b.N {
				mask |= 1
			}
			if a.Name != b.Name {
				mask |= 2
			}
			return mask
		},
		EncodeFields: func(w *bitbuf.Writer, s state.State, mask uint64) {
			c := s.(*counter)
			if mask&1 != 0 {
				w.WriteUint32(c.N, 16)
			}
			if mask&2 != 0 {
				w.WriteUint32(uint32(c.Name), 8)
			}
		},
		DecodeFields: func(r *bitbuf.Reader, s state.State, mask uint64) {
			c := s.(*counter)
			if mask&1 != 0 {
				c.N = r.ReadUint32(16)
			}
			if mask&2 != 0 {
				c.Name = uint8(r.ReadUint32(8))
			}
		},
		Apply: func(dst, src state.State, mask uint64) {
			d, s := dst.(*counter), src.(*counter)
			if mask&1 != 0 {
				d.N = s.N
			}
			if mask&2 != 0 {
				d.Name = s.Name
			}
		},
	}
}

func testArena(t *testing.T) *state.Arena {
	t.Helper()
	reg := state.NewRegistry()
	if err := reg.Register(counterCodec()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return state.NewArena(reg, true)
}

func assertDrained(t *testing.T, arena *state.Arena) {
	t.Helper()
	records, deltas, states := arena.Live()
	if records != 0 || deltas != 0 || states != 0 {
		t.Fatalf("arena still has live objects: records=%d deltas=%d states=%d", records, deltas, states)
	}
}

func TestClientPacketRoundTrip(t *testing.T) {
	layout := NewLayout(8, 16, 8)
	sender := tick.FromRaw(40)
	packet := &ClientPacket{
		SenderTick:             sender,
		LastReceivedServerTick: tick.FromRaw(100),
		LastReceivedEventID:    7,
		Commands: []*Command{
			{Tick: tick.FromRaw(20), Payload: []byte{9}}, // beyond the horizon
			{Tick: tick.FromRaw(38), Payload: []byte{1, 2}},
			{Tick: tick.FromRaw(40), Payload: nil},
		},
		View: []ViewEntry{
			{EntityID: 3, Tick: tick.FromRaw(99)},
			{EntityID: 4, Tick: tick.FromRaw(50)}, // beyond the horizon
			{EntityID: 5, Tick: tick.FromRaw(100)},
		},
	}

	data, err := packet.Encode(layout)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeClientPacket(layout, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.SenderTick != sender || got.LastReceivedServerTick != tick.FromRaw(100) || got.LastReceivedEventID != 7 {
		t.Fatalf("unexpected header: %+v", got)
	}
	if len(got.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(got.Commands))
	}
	if got.Commands[0].Tick != tick.FromRaw(38) || !bytes.Equal(got.Commands[0].Payload, []byte{1, 2}) {
		t.Fatalf("unexpected first command: %+v", got.Commands[0])
	}
	if got.Commands[1].Tick != sender || len(got.Commands[1].Payload) != 0 {
		t.Fatalf("unexpected second command: %+v", got.Commands[1])
	}
	want := []ViewEntry{{EntityID: 3, Tick: tick.FromRaw(99)}, {EntityID: 5, Tick: tick.FromRaw(100)}}
	if len(got.View) != len(want) {
		t.Fatalf("expected %d view entries, got %d", len(want), len(got.View))
	}
	for i := range want {
		if got.View[i] != want[i] {
			t.Fatalf("view entry %d: expected %+v, got %+v", i, want[i], got.View[i])
		}
	}
}

func TestClientPacketWithoutServerTickCarriesNoView(t *testing.T) {
	layout := NewLayout(8, 16, 8)
	packet := &ClientPacket{
		SenderTick: tick.FromRaw(1),
		View:       []ViewEntry{{EntityID: 1, Tick: tick.FromRaw(1)}},
	}
	data, err := packet.Encode(layout)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeClientPacket(layout, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.View) != 0 {
		t.Fatalf("expected no view entries, got %+v", got.View)
	}
}

func TestServerPacketRoundTrip(t *testing.T) {
	layout := NewLayout(8, 16, 8)
	arena := testArena(t)
	now := tick.FromRaw(30)

	full := state.CreateDelta(arena, state.DeltaInput{Tick: now, EntityID: 1, Type: counterType, Current: &counter{N: 5, Name: 9}})
	partial := state.CreateDelta(arena, state.DeltaInput{
		Tick: now, EntityID: 2, Type: counterType,
		Current: &counter{N: 6, Name: 1},
		Basis:   &state.Record{State: &counter{N: 2, Name: 1}},
	})
	marker := state.CreateDelta(arena, state.DeltaInput{
		Tick: now, EntityID: 3, Type: counterType,
		Current: &counter{N: 1},
		Basis:   &state.Record{State: &counter{N: 1}},
	})
	frozen := state.FreezeNotice(arena, now, 4, counterType)
	removed := state.RemovalNotice(arena, now, 5, counterType)
	packet := &ServerPacket{
		SenderTick:               now,
		LastProcessedCommandTick: tick.FromRaw(12),
		Deltas:                   []*state.Delta{full, partial, marker, frozen, removed},
		Events:                   []Event{{ID: 3, Kind: 1, Payload: []byte("hi")}, {Kind: 2}},
	}

	data, err := packet.Encode(layout, arena.Registry())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet.Free(arena)

	known := map[state.EntityID]state.Type{2: counterType, 3: counterType}
	resolve := func(id state.EntityID) (state.Type, bool) {
		typ, ok := known[id]
		return typ, ok
	}
	got, err := DecodeServerPacket(layout, arena, resolve, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LastProcessedCommandTick != tick.FromRaw(12) {
		t.Fatalf("unexpected command ack: %s", got.LastProcessedCommandTick)
	}
	if len(got.Deltas) != 5 {
		t.Fatalf("expected 5 deltas, got %d", len(got.Deltas))
	}

	d := got.Deltas[0]
	if !d.HasImmutableData || d.Type != counterType || *d.State.(*counter) != (counter{N: 5, Name: 9}) {
		t.Fatalf("unexpected full delta: %+v", d)
	}
	d = got.Deltas[1]
	if d.HasImmutableData || d.Mask != 1 || d.State.(*counter).N != 6 {
		t.Fatalf("unexpected partial delta: %+v", d)
	}
	d = got.Deltas[2]
	if d.HasPayload() || d.IsFrozen || d.Tick != now {
		t.Fatalf("unexpected marker: %+v", d)
	}
	d = got.Deltas[3]
	if !d.IsFrozen || d.IsRemoved || d.EntityID != 4 {
		t.Fatalf("unexpected freeze notice: %+v", d)
	}
	d = got.Deltas[4]
	if !d.IsFrozen || !d.IsRemoved || d.EntityID != 5 || d.HasPayload() {
		t.Fatalf("unexpected removal notice: %+v", d)
	}

	if len(got.Events) != 2 || !got.Events[0].Reliable() || string(got.Events[0].Payload) != "hi" || got.Events[1].Reliable() {
		t.Fatalf("unexpected events: %+v", got.Events)
	}

	got.Free(arena)
	assertDrained(t, arena)
}

func TestServerPacketRejectsPartialForUnknownEntity(t *testing.T) {
	layout := NewLayout(8, 16, 8)
	arena := testArena(t)
	now := tick.FromRaw(5)

	full := state.CreateDelta(arena, state.DeltaInput{Tick: now, EntityID: 1, Type: counterType, Current: &counter{N: 1}})
	partial := state.CreateDelta(arena, state.DeltaInput{
		Tick: now, EntityID: 2, Type: counterType,
		Current: &counter{N: 4},
		Basis:   &state.Record{State: &counter{N: 3}},
	})
	packet := &ServerPacket{SenderTick: now, Deltas: []*state.Delta{full, partial}}
	data, err := packet.Encode(layout, arena.Registry())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet.Free(arena)

	_, err = DecodeServerPacket(layout, arena, nil, data)
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
	assertDrained(t, arena)
}

func TestDecodeTruncated(t *testing.T) {
	layout := NewLayout(8, 16, 8)
	arena := testArena(t)
	if _, err := DecodeServerPacket(layout, arena, nil, []byte{0, 0, 0}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := DecodeClientPacket(layout, []byte{1}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := NewLayout(50, 16, 8).Validate(); err != nil {
		t.Fatalf("expected default layout to validate: %v", err)
	}
	bad := NewLayout(0, 16, 8)
	if err := bad.Validate(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for zero horizon, got %v", err)
	}
	bad = NewLayout(4, 0, 8)
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero entity id width")
	}
}
