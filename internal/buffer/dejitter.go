package buffer

import "ticksync/internal/tick"

// Dejitter retains up to one item per tick within a sliding window ending at
// the newest stored tick. Arrival order does not matter: queries always see
// items ordered by tick.
type Dejitter[T Item] struct {
	slots   []T
	count   int
	newest  tick.Tick
	policy  DuplicatePolicy
	release Release[T]
}

// NewDejitter constructs a buffer holding a window of capacity ticks. A nil
// release drops evicted items.
func NewDejitter[T Item](capacity int, policy DuplicatePolicy, release Release[T]) *Dejitter[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Dejitter[T]{
		slots:   make([]T, capacity),
		policy:  policy,
		release: release,
	}
}

// Capacity returns the window length in ticks.
func (d *Dejitter[T]) Capacity() int {
	if d == nil {
		return 0
	}
	return len(d.slots)
}

// Len returns the number of retained items.
func (d *Dejitter[T]) Len() int {
	if d == nil {
		return 0
	}
	return d.count
}

// Newest returns the highest tick ever accepted, Invalid when empty.
func (d *Dejitter[T]) Newest() tick.Tick {
	if d == nil {
		return tick.Invalid
	}
	return d.newest
}

// Store inserts item at its tick and reports whether the buffer took
// ownership. Items at or behind the window's trailing edge are stale and a
// duplicate under KeepExisting is rejected; in both cases the caller still
// owns item.
func (d *Dejitter[T]) Store(item T) bool {
	var zero T
	if d == nil || item == zero {
		return false
	}
	t := item.StampedTick()
	tick.MustValid(t)
	if d.isStale(t) {
		return false
	}

	idx := d.index(t)
	if existing := d.slots[idx]; existing != zero && existing.StampedTick() == t {
		if d.policy == KeepExisting {
			return false
		}
		d.drop(idx)
	}

	if t > d.newest {
		d.newest = t
		d.evictStale()
	}
	if d.slots[idx] != zero {
		d.drop(idx)
	}
	d.slots[idx] = item
	d.count++
	return true
}

// LatestAt returns the item with the greatest tick at or before t.
func (d *Dejitter[T]) LatestAt(t tick.Tick) (T, bool) {
	var best T
	if d == nil || !t.IsValid() {
		return best, false
	}
	var zero T
	found := false
	for _, item := range d.slots {
		if item == zero {
			continue
		}
		it := item.StampedTick()
		if it > t {
			continue
		}
		if !found || it > best.StampedTick() {
			best = item
			found = true
		}
	}
	return best, found
}

// EarliestAfter returns the item with the smallest tick strictly after t.
func (d *Dejitter[T]) EarliestAfter(t tick.Tick) (T, bool) {
	var best T
	if d == nil {
		return best, false
	}
	var zero T
	found := false
	for _, item := range d.slots {
		if item == zero {
			continue
		}
		it := item.StampedTick()
		if it <= t {
			continue
		}
		if !found || it < best.StampedTick() {
			best = item
			found = true
		}
	}
	return best, found
}

// RangeAt returns the bracket around t: cur is LatestAt(t) and next is the
// earliest item after cur. Without a cur both results are empty.
func (d *Dejitter[T]) RangeAt(t tick.Tick) (cur, next T, hasCur, hasNext bool) {
	cur, hasCur = d.LatestAt(t)
	if !hasCur {
		return cur, next, false, false
	}
	next, hasNext = d.EarliestAfter(cur.StampedTick())
	return cur, next, true, hasNext
}

// Latest returns the item at the newest retained tick.
func (d *Dejitter[T]) Latest() (T, bool) {
	var zero T
	if d == nil || !d.newest.IsValid() {
		return zero, false
	}
	item := d.slots[d.index(d.newest)]
	if item == zero || item.StampedTick() != d.newest {
		return d.LatestAt(d.newest)
	}
	return item, true
}

// Each visits retained items in tick order.
func (d *Dejitter[T]) Each(fn func(T) bool) {
	if d == nil || fn == nil || !d.newest.IsValid() {
		return
	}
	var zero T
	for back := len(d.slots) - 1; back >= 0; back-- {
		if int64(d.newest)-int64(back) < int64(tick.Start) {
			continue
		}
		t := d.newest.Add(-back)
		item := d.slots[d.index(t)]
		if item == zero || item.StampedTick() != t {
			continue
		}
		if !fn(item) {
			return
		}
	}
}

// Clear releases every retained item and forgets the window position.
func (d *Dejitter[T]) Clear() {
	if d == nil {
		return
	}
	var zero T
	for i := range d.slots {
		if d.slots[i] != zero {
			d.drop(i)
		}
	}
	d.newest = tick.Invalid
}

// Holds reports whether obj is retained, directly or as a payload.
func (d *Dejitter[T]) Holds(obj any) bool {
	if d == nil {
		return false
	}
	var zero T
	for _, item := range d.slots {
		if item != zero && item.References(obj) {
			return true
		}
	}
	return false
}

func (d *Dejitter[T]) isStale(t tick.Tick) bool {
	if !d.newest.IsValid() || t > d.newest {
		return false
	}
	return d.newest.Sub(t) >= len(d.slots)
}

func (d *Dejitter[T]) evictStale() {
	var zero T
	for i, item := range d.slots {
		if item != zero && d.isStale(item.StampedTick()) {
			d.drop(i)
		}
	}
}

func (d *Dejitter[T]) drop(idx int) {
	var zero T
	item := d.slots[idx]
	d.slots[idx] = zero
	d.count--
	if d.release != nil {
		d.release(item)
	}
}

func (d *Dejitter[T]) index(t tick.Tick) int {
	return int(uint32(t) % uint32(len(d.slots)))
}
