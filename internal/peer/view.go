package peer

import (
	"sort"

	"ticksync/internal/proto"
	"ticksync/internal/state"
	"ticksync/internal/tick"
)

// View maps entities to the newest tick one side knows the other has
// received. Entries only move forward.
type View struct {
	latest map[state.EntityID]tick.Tick
}

// NewView returns an empty view.
func NewView() *View {
	return &View{latest: make(map[state.EntityID]tick.Tick)}
}

// RecordUpdate raises the entry for id to t. Older ticks are ignored.
func (v *View) RecordUpdate(id state.EntityID, t tick.Tick) {
	if v == nil || !t.IsValid() {
		return
	}
	if cur, ok := v.latest[id]; ok && cur >= t {
		return
	}
	v.latest[id] = t
}

// LatestFor returns the entry for id.
func (v *View) LatestFor(id state.EntityID) (tick.Tick, bool) {
	if v == nil {
		return tick.Invalid, false
	}
	t, ok := v.latest[id]
	return t, ok
}

// Len returns the number of entries.
func (v *View) Len() int {
	if v == nil {
		return 0
	}
	return len(v.latest)
}

// Entries returns up to limit entries, newest first and then by entity id,
// so a truncated list keeps the most useful acknowledgements.
func (v *View) Entries(limit int) []proto.ViewEntry {
	if v == nil || len(v.latest) == 0 {
		return nil
	}
	entries := make([]proto.ViewEntry, 0, len(v.latest))
	for id, t := range v.latest {
		entries = append(entries, proto.ViewEntry{EntityID: id, Tick: t})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tick != entries[j].Tick {
			return entries[i].Tick > entries[j].Tick
		}
		return entries[i].EntityID < entries[j].EntityID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Forget drops the entry for id.
func (v *View) Forget(id state.EntityID) {
	if v == nil {
		return
	}
	delete(v.latest, id)
}

// Retain drops every entry keep rejects and returns how many were dropped.
func (v *View) Retain(keep func(id state.EntityID) bool) int {
	if v == nil {
		return 0
	}
	dropped := 0
	for id := range v.latest {
		if !keep(id) {
			delete(v.latest, id)
			dropped++
		}
	}
	return dropped
}

// Clear drops every entry.
func (v *View) Clear() {
	if v == nil {
		return
	}
	clear(v.latest)
}
