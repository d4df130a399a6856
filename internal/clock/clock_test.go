package clock

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync/internal/tick"
)

func TestClockSeedsFromFirstObservation(t *testing.T) {
	c := New(Config{SendRate: 2, Horizon: 20, CatchupStep: 3})
	assert.False(t, c.Estimated().IsValid())
	assert.False(t, c.Step())
	assert.False(t, c.Estimated().IsValid())

	c.Observe(tick.FromRaw(10))
	assert.Equal(t, tick.FromRaw(10), c.Latest())
	assert.Equal(t, tick.FromRaw(10), c.Estimated())
}

func TestClockFreeRunsWithinOneEpoch(t *testing.T) {
	c := New(Config{SendRate: 3, Horizon: 20, CatchupStep: 3})
	c.Observe(tick.FromRaw(10))
	for i := 0; i < 10; i++ {
		c.Step()
	}
	assert.Equal(t, tick.FromRaw(13), c.Estimated())
	assert.Equal(t, tick.FromRaw(10), c.Latest())
}

func TestClockCatchesUpInBoundedSteps(t *testing.T) {
	c := New(Config{SendRate: 2, Horizon: 20, CatchupStep: 3})
	c.Observe(tick.FromRaw(10))
	c.Observe(tick.FromRaw(18))

	c.Step()
	assert.Equal(t, tick.FromRaw(13), c.Estimated())
	c.Step()
	assert.Equal(t, tick.FromRaw(16), c.Estimated())
	c.Step()
	assert.Equal(t, tick.FromRaw(18), c.Estimated())
}

func TestClockSnapsWhenBeyondHorizon(t *testing.T) {
	c := New(Config{SendRate: 2, Horizon: 5, CatchupStep: 2})
	c.Observe(tick.FromRaw(1))
	c.Observe(tick.FromRaw(40))
	require.True(t, c.Step())
	assert.Equal(t, tick.FromRaw(40), c.Estimated())
	assert.Equal(t, uint64(1), c.Snaps())
}

func TestClockIgnoresOlderStamps(t *testing.T) {
	c := New(Config{SendRate: 2, Horizon: 20})
	c.Observe(tick.FromRaw(30))
	c.Observe(tick.FromRaw(12))
	c.Observe(tick.Invalid)
	assert.Equal(t, tick.FromRaw(30), c.Latest())
}

func TestClockMonotonicUnderJitter(t *testing.T) {
	const sendRate = 3
	c := New(Config{SendRate: sendRate, Horizon: 30, CatchupStep: 3})
	rng := rand.New(rand.NewSource(7))

	remote := tick.FromRaw(100)
	prev := tick.Invalid
	for local := 0; local < 2000; local++ {
		remote = remote.Next()
		if local%sendRate == 0 && rng.Intn(4) != 0 {
			delay := rng.Intn(6)
			c.Observe(remote.Add(-delay))
		}
		c.Step()
		est := c.Estimated()
		if !est.IsValid() {
			continue
		}
		require.GreaterOrEqual(t, est, prev, "estimate moved backward at step %d", local)
		require.LessOrEqual(t, est.Sub(c.Latest()), sendRate, "estimate drifted past watermark at step %d", local)
		prev = est
	}
}
