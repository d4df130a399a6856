// Package bitbuf wraps bitio with the fixed-width helpers the wire codecs
// need. Errors are sticky: the first failure is kept and later calls are
// no-ops, so codecs check Err once at the end.
package bitbuf

import (
	"bytes"
	"errors"
	"io"
	"math"

	"github.com/icza/bitio"

	"ticksync/internal/tick"
)

// ErrTruncated reports a read past the end of the packet.
var ErrTruncated = errors.New("bitbuf: truncated input")

// ErrRange reports an encoded value outside its encoder bounds.
var ErrRange = errors.New("bitbuf: value out of range")

// Writer accumulates bit-packed fields.
type Writer struct {
	buf bytes.Buffer
	w   *bitio.Writer
	n   int
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	wr := &Writer{}
	wr.w = bitio.NewWriter(&wr.buf)
	return wr
}

// Err returns the first write error.
func (w *Writer) Err() error {
	return w.w.TryError
}

// BitsWritten reports the number of bits written so far.
func (w *Writer) BitsWritten() int {
	return w.n
}

// WriteBits writes the low n bits of v.
func (w *Writer) WriteBits(v uint64, n uint8) {
	if n == 0 {
		return
	}
	w.w.TryWriteBits(v, n)
	w.n += int(n)
}

// WriteBool writes a single bit.
func (w *Writer) WriteBool(b bool) {
	w.w.TryWriteBool(b)
	w.n++
}

// WriteUint32 writes v in n bits.
func (w *Writer) WriteUint32(v uint32, n uint8) {
	w.WriteBits(uint64(v), n)
}

// WriteInt packs v with enc.
func (w *Writer) WriteInt(enc tick.IntEncoder, v int) {
	w.WriteBits(uint64(enc.Pack(v)), enc.RequiredBits())
}

// WriteTick writes a full-width tick.
func (w *Writer) WriteTick(t tick.Tick) {
	w.WriteBits(uint64(t), 32)
}

// WriteSpan writes s with the span encoder.
func (w *Writer) WriteSpan(enc tick.IntEncoder, s tick.Span) {
	w.WriteBits(uint64(s.Pack(enc)), enc.RequiredBits())
}

// WriteFloat32 writes the IEEE-754 bits of f.
func (w *Writer) WriteFloat32(f float32) {
	w.WriteBits(uint64(math.Float32bits(f)), 32)
}

// WriteBytes writes a length prefix of lenBits followed by data.
func (w *Writer) WriteBytes(data []byte, lenBits uint8) {
	max := uint64(1)<<lenBits - 1
	if uint64(len(data)) > max {
		if w.w.TryError == nil {
			w.w.TryError = ErrRange
		}
		return
	}
	w.WriteBits(uint64(len(data)), lenBits)
	for _, b := range data {
		w.WriteBits(uint64(b), 8)
	}
}

// Bytes flushes pending bits (zero padded) and returns the packed bytes. The
// writer must not be used afterwards.
func (w *Writer) Bytes() ([]byte, error) {
	if err := w.w.Close(); err != nil && w.w.TryError == nil {
		w.w.TryError = err
	}
	if err := w.w.TryError; err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// Reader decodes bit-packed fields.
type Reader struct {
	r   *bitio.Reader
	err error
}

// NewReader reads from data.
func NewReader(data []byte) *Reader {
	return &Reader{r: bitio.NewReader(bytes.NewReader(data))}
}

// Err returns the first read error, normalized to ErrTruncated for short input.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.r.TryError; err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

// ReadBits reads n bits.
func (r *Reader) ReadBits(n uint8) uint64 {
	if n == 0 {
		return 0
	}
	return r.r.TryReadBits(n)
}

// ReadBool reads one bit.
func (r *Reader) ReadBool() bool {
	return r.r.TryReadBool()
}

// ReadUint32 reads an n-bit value.
func (r *Reader) ReadUint32(n uint8) uint32 {
	return uint32(r.ReadBits(n))
}

// ReadInt unpacks a value written with enc.
func (r *Reader) ReadInt(enc tick.IntEncoder) int {
	data := uint32(r.ReadBits(enc.RequiredBits()))
	if !enc.InRange(data) {
		r.fail(ErrRange)
		return enc.Min
	}
	return enc.Unpack(data)
}

// ReadTick reads a full-width tick.
func (r *Reader) ReadTick() tick.Tick {
	return tick.Tick(r.ReadBits(32))
}

// ReadSpan reads a span written with enc.
func (r *Reader) ReadSpan(enc tick.IntEncoder) tick.Span {
	data := uint32(r.ReadBits(enc.RequiredBits()))
	if !enc.InRange(data) {
		r.fail(ErrRange)
		return tick.Span{}
	}
	return tick.UnpackSpan(enc, data)
}

// ReadFloat32 reads IEEE-754 bits.
func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(uint32(r.ReadBits(32)))
}

// ReadBytes reads a length-prefixed byte slice.
func (r *Reader) ReadBytes(lenBits uint8) []byte {
	n := int(r.ReadBits(lenBits))
	if r.Err() != nil || n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.ReadBits(8))
	}
	return out
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
