// Package pool provides checkout/return object pools for per-tick records.
// A pool remembers which objects are checked out so a double return or a
// return of a foreign object is caught immediately, and it can optionally
// verify that a returned object is no longer reachable from any registered
// holder.
package pool

import (
	"fmt"
	"sync"
)

// Holder is implemented by structures that retain pooled objects.
type Holder interface {
	Holds(obj any) bool
}

// Stats summarizes pool activity.
type Stats struct {
	Allocated uint64
	Reused    uint64
	Returned  uint64
	Live      int
	Idle      int
}

// Pool recycles values of T. T is expected to be a pointer type.
type Pool[T comparable] struct {
	mu      sync.Mutex
	name    string
	newFn   func() T
	resetFn func(T)
	idle    []T
	live    map[T]struct{}
	checked bool
	holders map[Holder]struct{}
	stats   Stats
}

// Options configures a pool.
type Options[T comparable] struct {
	Name string
	New  func() T
	// Reset clears an object before it is made available again.
	Reset func(T)
	// Checked enables reachability verification on Put.
	Checked bool
}

// New constructs a pool.
func New[T comparable](opts Options[T]) *Pool[T] {
	if opts.New == nil {
		panic("pool: New func is required")
	}
	return &Pool[T]{
		name:    opts.Name,
		newFn:   opts.New,
		resetFn: opts.Reset,
		live:    make(map[T]struct{}),
		checked: opts.Checked,
		holders: make(map[Holder]struct{}),
	}
}

// Get checks out an object.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	var obj T
	if n := len(p.idle); n > 0 {
		obj = p.idle[n-1]
		var zero T
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.stats.Reused++
	} else {
		obj = p.newFn()
		p.stats.Allocated++
	}
	if _, dup := p.live[obj]; dup {
		panic(fmt.Sprintf("pool %s: object checked out twice", p.name))
	}
	p.live[obj] = struct{}{}
	return obj
}

// Put returns an object. Returning an object that is not checked out, or one
// still reachable from a registered holder in checked mode, panics.
func (p *Pool[T]) Put(obj T) {
	var zero T
	if obj == zero {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[obj]; !ok {
		panic(fmt.Sprintf("pool %s: returned object is not checked out", p.name))
	}
	if p.checked {
		for holder := range p.holders {
			if holder.Holds(obj) {
				panic(fmt.Sprintf("pool %s: returned object still held by %T", p.name, holder))
			}
		}
	}
	delete(p.live, obj)
	if p.resetFn != nil {
		p.resetFn(obj)
	}
	p.idle = append(p.idle, obj)
	p.stats.Returned++
}

// IsLive reports whether obj is currently checked out.
func (p *Pool[T]) IsLive(obj T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[obj]
	return ok
}

// Track registers a holder for reachability checks.
func (p *Pool[T]) Track(h Holder) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holders[h] = struct{}{}
}

// Untrack removes a holder.
func (p *Pool[T]) Untrack(h Holder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.holders, h)
}

// Checked reports whether reachability verification is enabled.
func (p *Pool[T]) Checked() bool {
	return p.checked
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Live = len(p.live)
	s.Idle = len(p.idle)
	return s
}
