package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	value int
}

type sliceHolder struct {
	items []*item
}

func (h *sliceHolder) Holds(obj any) bool {
	for _, it := range h.items {
		if it == obj {
			return true
		}
	}
	return false
}

func newItemPool(checked bool) *Pool[*item] {
	return New(Options[*item]{
		Name:    "item",
		New:     func() *item { return &item{} },
		Reset:   func(it *item) { it.value = 0 },
		Checked: checked,
	})
}

func TestPoolReusesReturnedObjects(t *testing.T) {
	p := newItemPool(false)
	a := p.Get()
	a.value = 7
	p.Put(a)

	b := p.Get()
	assert.Same(t, a, b)
	assert.Equal(t, 0, b.value)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Allocated)
	assert.Equal(t, uint64(1), stats.Reused)
	assert.Equal(t, 1, stats.Live)
}

func TestPoolDoubleReturnPanics(t *testing.T) {
	p := newItemPool(false)
	a := p.Get()
	p.Put(a)
	assert.Panics(t, func() { p.Put(a) })
	assert.Panics(t, func() { p.Put(&item{}) })
}

func TestPoolCheckedRejectsReachableObject(t *testing.T) {
	p := newItemPool(true)
	holder := &sliceHolder{}
	p.Track(holder)

	a := p.Get()
	holder.items = append(holder.items, a)
	require.Panics(t, func() { p.Put(a) })
	assert.True(t, p.IsLive(a))

	holder.items = nil
	assert.NotPanics(t, func() { p.Put(a) })
	assert.False(t, p.IsLive(a))

	p.Untrack(holder)
	b := p.Get()
	holder.items = append(holder.items, b)
	assert.NotPanics(t, func() { p.Put(b) })
}

func TestPoolPutNilIsNoop(t *testing.T) {
	p := newItemPool(true)
	assert.NotPanics(t, func() { p.Put(nil) })
}
