package bitbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticksync/internal/tick"
)

func TestWriterReaderFields(t *testing.T) {
	enc := tick.SpanEncoder(20)
	span := tick.NewSpan(tick.FromRaw(30), tick.FromRaw(25), 20)

	w := NewWriter()
	w.WriteBool(true)
	w.WriteUint32(5, 3)
	w.WriteTick(tick.FromRaw(1234))
	w.WriteSpan(enc, span)
	w.WriteFloat32(-3.25)
	w.WriteBytes([]byte{0xde, 0xad}, 4)
	w.WriteInt(tick.NewIntEncoder(-4, 4), -3)
	w.WriteBool(false)
	require.NoError(t, w.Err())
	data, err := w.Bytes()
	require.NoError(t, err)

	r := NewReader(data)
	assert.True(t, r.ReadBool())
	assert.Equal(t, uint32(5), r.ReadUint32(3))
	assert.Equal(t, tick.FromRaw(1234), r.ReadTick())
	assert.Equal(t, span, r.ReadSpan(enc))
	assert.Equal(t, float32(-3.25), r.ReadFloat32())
	assert.Equal(t, []byte{0xde, 0xad}, r.ReadBytes(4))
	assert.Equal(t, -3, r.ReadInt(tick.NewIntEncoder(-4, 4)))
	assert.False(t, r.ReadBool())
	require.NoError(t, r.Err())
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{0xff})
	r.ReadBits(8)
	r.ReadBits(8)
	assert.ErrorIs(t, r.Err(), ErrTruncated)
}

func TestWriteBytesTooLong(t *testing.T) {
	w := NewWriter()
	w.WriteBytes(make([]byte, 16), 4)
	_, err := w.Bytes()
	assert.ErrorIs(t, err, ErrRange)
}

func TestReadSpanRejectsOutOfEncoderRange(t *testing.T) {
	enc := tick.SpanEncoder(4)
	w := NewWriter()
	w.WriteBits(7, enc.RequiredBits())
	data, err := w.Bytes()
	require.NoError(t, err)

	r := NewReader(data)
	r.ReadSpan(enc)
	assert.ErrorIs(t, r.Err(), ErrRange)
}
