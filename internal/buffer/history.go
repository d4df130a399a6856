package buffer

import "ticksync/internal/tick"

// History is a bounded list of records in ascending tick order. Once the
// capacity is exceeded the oldest record is released.
type History[T Item] struct {
	items    []T
	capacity int
	release  Release[T]
}

// NewHistory constructs a history keeping at most capacity items.
func NewHistory[T Item](capacity int, release Release[T]) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		release:  release,
	}
}

// Len returns the number of retained items.
func (h *History[T]) Len() int {
	if h == nil {
		return 0
	}
	return len(h.items)
}

// Store appends item and reports whether the history took ownership. Items
// not newer than the latest stored tick are rejected.
func (h *History[T]) Store(item T) bool {
	var zero T
	if h == nil || item == zero {
		return false
	}
	t := item.StampedTick()
	tick.MustValid(t)
	if n := len(h.items); n > 0 && t <= h.items[n-1].StampedTick() {
		return false
	}

	h.items = append(h.items, item)
	if overflow := len(h.items) - h.capacity; overflow > 0 {
		evicted := make([]T, overflow)
		copy(evicted, h.items[:overflow])
		copy(h.items, h.items[overflow:])
		for i := len(h.items) - overflow; i < len(h.items); i++ {
			h.items[i] = zero
		}
		h.items = h.items[:len(h.items)-overflow]
		// Release after unlinking so checked pools see the item unreachable.
		for _, old := range evicted {
			h.releaseItem(old)
		}
	}
	return true
}

// Latest returns the newest item.
func (h *History[T]) Latest() (T, bool) {
	var zero T
	if h == nil || len(h.items) == 0 {
		return zero, false
	}
	return h.items[len(h.items)-1], true
}

// Oldest returns the oldest retained item.
func (h *History[T]) Oldest() (T, bool) {
	var zero T
	if h == nil || len(h.items) == 0 {
		return zero, false
	}
	return h.items[0], true
}

// LatestAt returns the newest item with tick at or before t.
func (h *History[T]) LatestAt(t tick.Tick) (T, bool) {
	var zero T
	if h == nil || !t.IsValid() {
		return zero, false
	}
	for i := len(h.items) - 1; i >= 0; i-- {
		if h.items[i].StampedTick() <= t {
			return h.items[i], true
		}
	}
	return zero, false
}

// Clear releases every item.
func (h *History[T]) Clear() {
	if h == nil {
		return
	}
	items := h.items
	h.items = make([]T, 0, h.capacity)
	for _, item := range items {
		h.releaseItem(item)
	}
}

// Holds reports whether obj is retained, directly or as a payload.
func (h *History[T]) Holds(obj any) bool {
	if h == nil {
		return false
	}
	for _, item := range h.items {
		if item.References(obj) {
			return true
		}
	}
	return false
}

func (h *History[T]) releaseItem(item T) {
	if h.release != nil {
		h.release(item)
	}
}
