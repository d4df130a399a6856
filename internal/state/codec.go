// Package state holds the per-entity payload model: a codec table keyed by
// type tag, delta and record envelopes, and the pooled arena they live in.
package state

import (
	"errors"
	"fmt"
	"sort"

	"ticksync/internal/bitbuf"
)

var (
	// ErrUnknownType reports a type tag with no registered codec.
	ErrUnknownType = errors.New("state: unknown type")
	// ErrDuplicateType reports a second registration for a type tag.
	ErrDuplicateType = errors.New("state: duplicate type")
)

// Type tags a registered payload kind.
type Type uint16

// EntityID identifies an entity on both ends of a connection. Zero is invalid.
type EntityID uint32

// State is a user-defined payload. Implementations must be pointer types so
// pooled instances can be tracked by identity.
type State any

// Codec is the per-type function table registered by the host. Fields are
// addressed by bit index in a dirty mask; the engine owns the mask framing
// and the codec only reads and writes the selected fields.
type Codec struct {
	Type Type
	Name string
	// Fields is the number of mask bits (1..64).
	Fields int
	// ImmutableMask selects fields sent only with full snapshots.
	ImmutableMask uint64
	// ControllerMask selects fields sent only to the controlling peer.
	ControllerMask uint64

	New          func() State
	Reset        func(State)
	Copy         func(dst, src State)
	Compare      func(cur, basis State) uint64
	EncodeFields func(w *bitbuf.Writer, s State, mask uint64)
	DecodeFields func(r *bitbuf.Reader, s State, mask uint64)
	Apply        func(dst, src State, mask uint64)
	// Blend writes from→to interpolated numeric fields into dst at t. Fields
	// that cannot be blended must be left untouched.
	Blend func(dst, from, to State, t float64)
}

// AllFields returns the mask selecting every field.
func (c *Codec) AllFields() uint64 {
	if c.Fields >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(c.Fields) - 1
}

// EncodeMask selects the fields to send for cur against basis.
func (c *Codec) EncodeMask(cur, basis State, controller bool) uint64 {
	var mask uint64
	if basis == nil {
		mask = c.AllFields()
	} else {
		mask = c.Compare(cur, basis) &^ c.ImmutableMask
	}
	if !controller {
		mask &^= c.ControllerMask
	}
	return mask & c.AllFields()
}

func (c *Codec) validate() error {
	if c.Fields < 1 || c.Fields > 64 {
		return fmt.Errorf("state: codec %q has %d fields, want 1..64", c.Name, c.Fields)
	}
	if c.New == nil || c.Copy == nil || c.Compare == nil || c.EncodeFields == nil || c.DecodeFields == nil || c.Apply == nil {
		return fmt.Errorf("state: codec %q is missing required functions", c.Name)
	}
	return nil
}

// Registry maps type tags to codecs.
type Registry struct {
	codecs map[Type]*Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Type]*Codec)}
}

// Register adds a codec.
func (r *Registry) Register(c Codec) error {
	if err := c.validate(); err != nil {
		return err
	}
	if _, exists := r.codecs[c.Type]; exists {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateType, c.Type, c.Name)
	}
	codec := c
	r.codecs[c.Type] = &codec
	return nil
}

// Lookup returns the codec for t.
func (r *Registry) Lookup(t Type) (*Codec, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	codec, ok := r.codecs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return codec, nil
}

// Types lists registered tags in ascending order.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.codecs))
	for t := range r.codecs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
