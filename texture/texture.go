// Package texture provides the 2D buffers that hold state vectors and
// derived data, and the pool they are drawn from.
//
// A Texture is a logical W×H grid of values (W·H a power of two) stored in
// W·d × H pixels of its codec's format, where d is the codec's pixels per
// value. Cell i lives at row i / W, column i % W. Handles are
// generation-checked: once released, every data access fails with
// ErrReleased instead of touching storage that may already belong to
// another handle.
package texture

import (
	"errors"
	"fmt"

	"github.com/gogpu/qsim/codec"
)

var (
	// ErrReleased is returned when a released texture is used.
	ErrReleased = errors.New("texture: use of released texture")

	// ErrCapacity is returned when a requested texture has more than
	// MaxIndexBits index bits.
	ErrCapacity = errors.New("texture: size exceeds capacity")

	// ErrSize is returned for dimensions that are not positive powers of two
	// or pixel data of the wrong length.
	ErrSize = errors.New("texture: invalid size")
)

// MaxIndexBits bounds the number of logical cells to 2^MaxIndexBits.
const MaxIndexBits = 30

// Residency records which copies of a texture's pixels are current.
type Residency uint8

const (
	// ResidentHost means the host pixel slice is current.
	ResidentHost Residency = 1 << iota

	// ResidentDevice means the device resource is current.
	ResidentDevice
)

// Has reports whether r includes all of o.
func (r Residency) Has(o Residency) bool { return r&o == o }

// slot is the pooled storage behind a handle.
type slot struct {
	key       Key
	gen       uint64
	pixels    []byte
	device    any
	residency Residency
}

// Texture is a handle to pooled pixel storage.
type Texture struct {
	pool   *Pool
	slot   *slot
	gen    uint64
	width  int
	height int
	arity  codec.Arity
	format codec.PixelFormat
	ppv    int
	label  string
}

// Width returns the logical width in cells.
func (t *Texture) Width() int { return t.width }

// Height returns the logical height in cells.
func (t *Texture) Height() int { return t.height }

// Size returns the number of logical cells.
func (t *Texture) Size() int { return t.width * t.height }

// Arity returns the value arity of each cell.
func (t *Texture) Arity() codec.Arity { return t.arity }

// Format returns the pixel format of the storage.
func (t *Texture) Format() codec.PixelFormat { return t.format }

// PhysWidth returns the storage width in pixels.
func (t *Texture) PhysWidth() int { return t.width * t.ppv }

// PhysLen returns the number of storage pixels.
func (t *Texture) PhysLen() int { return t.PhysWidth() * t.height }

// ByteSize returns the storage size in bytes.
func (t *Texture) ByteSize() int { return t.PhysLen() * t.Format().BytesPerPixel() }

// Label returns the debug label given to the texture.
func (t *Texture) Label() string { return t.label }

// SetLabel names the texture for logs and GPU debug labels.
func (t *Texture) SetLabel(s string) { t.label = s }

// String returns a short description of the texture.
func (t *Texture) String() string {
	name := t.label
	if name == "" {
		name = "texture"
	}
	return fmt.Sprintf("%s[%dx%d %v %v]", name, t.width, t.height, t.arity, t.Format())
}

// Check returns ErrReleased if the handle has been released.
func (t *Texture) Check() error {
	if t == nil {
		return fmt.Errorf("%w: nil texture", ErrReleased)
	}
	if t.slot == nil || t.slot.gen != t.gen {
		return fmt.Errorf("%w: %s", ErrReleased, t.label)
	}
	return nil
}

// Pixels returns the host pixel slice. The slice is only current when the
// texture is resident on the host; runners sync before host reads.
func (t *Texture) Pixels() ([]byte, error) {
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t.slot.pixels, nil
}

// SetPixels copies data into host storage and marks the device copy stale.
func (t *Texture) SetPixels(data []byte) error {
	if err := t.Check(); err != nil {
		return err
	}
	if len(data) != len(t.slot.pixels) {
		return fmt.Errorf("%w: %d bytes for %v (%d bytes)", ErrSize, len(data), t, len(t.slot.pixels))
	}
	copy(t.slot.pixels, data)
	t.slot.residency = ResidentHost
	return nil
}

// Residency returns which copies of the pixels are current.
func (t *Texture) Residency() Residency {
	if t.Check() != nil {
		return 0
	}
	return t.slot.residency
}

// SetResidency records which copies of the pixels are current.
func (t *Texture) SetResidency(r Residency) error {
	if err := t.Check(); err != nil {
		return err
	}
	t.slot.residency = r
	return nil
}

// Device returns the runner-owned device resource attached to the storage.
// It survives release and is reused when the slot is taken again.
func (t *Texture) Device() (any, error) {
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t.slot.device, nil
}

// SetDevice attaches a device resource to the storage.
func (t *Texture) SetDevice(d any) error {
	if err := t.Check(); err != nil {
		return err
	}
	t.slot.device = d
	return nil
}

// Release returns the storage to the pool. The handle is unusable afterwards.
func (t *Texture) Release() error {
	if err := t.Check(); err != nil {
		return err
	}
	t.pool.put(t.slot)
	t.slot = nil
	return nil
}
