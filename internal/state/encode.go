package state

import (
	"fmt"

	"ticksync/internal/bitbuf"
	"ticksync/internal/tick"
)

// Encode writes the fields of cur that differ from basis, or every field when
// basis is nil. It reports whether any field was written.
func Encode(w *bitbuf.Writer, c *Codec, cur, basis State, controller bool) bool {
	mask := c.EncodeMask(cur, basis, controller)
	writeMasked(w, c, cur, mask)
	return mask != 0
}

// Decode reconstructs a full state into dst from basis plus the packed
// fields. A nil basis resets dst first. The decoded field mask is returned.
func Decode(r *bitbuf.Reader, c *Codec, dst, basis State) uint64 {
	if basis != nil {
		c.Copy(dst, basis)
	} else if c.Reset != nil {
		c.Reset(dst)
	}
	return readMasked(r, c, dst)
}

// DecodeAgainst is Decode with a basis tick check. Decoding against a basis
// other than the one the sender encoded against corrupts state silently, so
// a mismatch panics.
func DecodeAgainst(r *bitbuf.Reader, c *Codec, dst State, basis *Record, basisTick tick.Tick) uint64 {
	if basis == nil {
		if basisTick.IsValid() {
			panic(fmt.Sprintf("state: basis mismatch: want %s, have none", basisTick))
		}
		return Decode(r, c, dst, nil)
	}
	if basis.Tick != basisTick {
		panic(fmt.Sprintf("state: basis mismatch: want %s, have %s", basisTick, basis.Tick))
	}
	return Decode(r, c, dst, basis.State)
}

// ApplyDelta overlays the fields carried by d onto prior. Deltas without a
// payload leave prior unchanged.
func ApplyDelta(c *Codec, prior State, d *Delta) {
	if d == nil || d.State == nil || d.Mask == 0 {
		return
	}
	c.Apply(prior, d.State, d.Mask)
}

// EncodeDelta writes the payload of d.
func EncodeDelta(w *bitbuf.Writer, c *Codec, d *Delta) {
	writeMasked(w, c, d.State, d.Mask)
}

// DecodeDelta reads a payload written by EncodeDelta into d.State, which
// must already be allocated.
func DecodeDelta(r *bitbuf.Reader, c *Codec, d *Delta) {
	if c.Reset != nil {
		c.Reset(d.State)
	}
	d.Mask = readMasked(r, c, d.State)
}

func writeMasked(w *bitbuf.Writer, c *Codec, s State, mask uint64) {
	w.WriteBits(mask, uint8(c.Fields))
	if mask != 0 {
		c.EncodeFields(w, s, mask)
	}
}

func readMasked(r *bitbuf.Reader, c *Codec, s State) uint64 {
	mask := r.ReadBits(uint8(c.Fields)) & c.AllFields()
	if mask != 0 {
		c.DecodeFields(r, s, mask)
	}
	return mask
}
