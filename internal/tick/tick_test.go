package tick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickOffsetSentinel(t *testing.T) {
	var zero Tick
	assert.False(t, zero.IsValid())
	assert.True(t, Start.IsValid())
	assert.Equal(t, uint32(0), Start.Raw())
	assert.Equal(t, Tick(6), FromRaw(5))
	assert.Equal(t, uint32(5), FromRaw(5).Raw())
	assert.Panics(t, func() { zero.Raw() })
}

func TestTickArithmetic(t *testing.T) {
	a := FromRaw(10)
	b := FromRaw(4)
	assert.Equal(t, 6, a.Sub(b))
	assert.Equal(t, -6, b.Sub(a))
	assert.Equal(t, FromRaw(11), a.Next())
	assert.Equal(t, FromRaw(7), a.Add(-3))
	assert.Equal(t, Start, a.Add(-10))
	assert.Panics(t, func() { a.Add(-11) })
	assert.Equal(t, Max, Max.Next())
	assert.Equal(t, Max, (Max - 2).Add(10))
}

func TestTickTime(t *testing.T) {
	assert.InDelta(t, 0.5, FromRaw(25).Time(20*time.Millisecond), 1e-9)
}

func TestSpanCreate(t *testing.T) {
	const horizon = 8
	basis := FromRaw(100)

	zero := NewSpan(basis, basis, horizon)
	require.True(t, zero.IsInRange())
	assert.Equal(t, 0, zero.Raw())

	edge := NewSpan(basis.Add(horizon), basis, horizon)
	require.True(t, edge.IsInRange())
	assert.Equal(t, horizon, edge.Raw())

	over := NewSpan(basis.Add(horizon+1), basis, horizon)
	assert.True(t, over.IsOutOfRange())
	assert.True(t, over.IsValid())
	assert.False(t, over.IsInRange())
	assert.Equal(t, OutOfRange, over)

	var invalid Span
	assert.False(t, invalid.IsValid())
	assert.NotEqual(t, invalid, OutOfRange)

	assert.Panics(t, func() { NewSpan(basis.Add(-1), basis, horizon) })
	assert.Panics(t, func() { over.Raw() })
	assert.Panics(t, func() { invalid.Raw() })
}

func TestSpanResolve(t *testing.T) {
	latest := FromRaw(40)
	span := NewSpan(latest, FromRaw(35), 10)
	assert.Equal(t, FromRaw(35), span.Resolve(latest))
	assert.Equal(t, Invalid, OutOfRange.Resolve(latest))
}

func TestSpanEncoderWidth(t *testing.T) {
	cases := []struct {
		horizon int
		bits    uint8
	}{
		{horizon: 1, bits: 2},
		{horizon: 5, bits: 3},
		{horizon: 6, bits: 4},
		{horizon: 50, bits: 6},
		{horizon: 61, bits: 6},
		{horizon: 62, bits: 7},
	}
	for _, tc := range cases {
		enc := SpanEncoder(tc.horizon)
		assert.Equal(t, tc.bits, enc.RequiredBits(), "horizon %d", tc.horizon)
	}
}

func TestSpanPackRoundTrip(t *testing.T) {
	const horizon = 12
	enc := SpanEncoder(horizon)
	basis := FromRaw(3)
	spans := []Span{{}, OutOfRange, NewSpan(basis, basis, horizon), NewSpan(basis.Add(horizon), basis, horizon)}
	for _, span := range spans {
		packed := span.Pack(enc)
		require.True(t, enc.InRange(packed))
		assert.Equal(t, span, UnpackSpan(enc, packed))
	}
}
