// Package codec defines how kernel values are stored in texture pixels.
//
// A Codec is an immutable strategy shared by every kernel of a library. It
// supplies the WGSL fragments that read values from input buffers and write
// the kernel result to the output buffer, and the host-side conversions used
// when uploading initial data and reading results back.
//
// Two codecs are provided:
//   - [FloatCodec] stores each value in one RGBA32F pixel.
//   - [ByteCodec] stores each scalar in one RGBA8 pixel, for devices that
//     cannot use float storage textures.
package codec

import (
	"errors"
	"fmt"
	"math"
)

// ErrFormatMismatch is returned when a buffer's pixel format does not match
// the codec a kernel was built for.
var ErrFormatMismatch = errors.New("codec: pixel format mismatch")

// ErrArity is returned for an unsupported value arity or a value slice whose
// length is not a multiple of the arity.
var ErrArity = errors.New("codec: invalid arity")

// Tag identifies a codec implementation.
type Tag int

const (
	// TagFloat selects the native float codec.
	TagFloat Tag = iota

	// TagByte selects the byte-packing codec.
	TagByte
)

// String returns the codec tag name.
func (t Tag) String() string {
	switch t {
	case TagFloat:
		return "float"
	case TagByte:
		return "byte"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Arity is the number of scalar channels in one logical value.
type Arity int

const (
	// Scalar values carry one channel (probabilities, control flags).
	Scalar Arity = 1

	// Vec2 values carry a complex amplitude (re, im).
	Vec2 Arity = 2

	// Vec4 values carry four independent scalars.
	Vec4 Arity = 4
)

// Valid reports whether a is one of the supported arities.
func (a Arity) Valid() bool {
	return a == Scalar || a == Vec2 || a == Vec4
}

// String returns the arity name.
func (a Arity) String() string {
	switch a {
	case Scalar:
		return "scalar"
	case Vec2:
		return "vec2"
	case Vec4:
		return "vec4"
	default:
		return fmt.Sprintf("Arity(%d)", int(a))
	}
}

// WGSLType returns the WGSL type of a value of this arity.
func (a Arity) WGSLType() string {
	switch a {
	case Vec2:
		return "vec2<f32>"
	case Vec4:
		return "vec4<f32>"
	default:
		return "f32"
	}
}

// WGSLZero returns the WGSL zero literal of this arity.
func (a Arity) WGSLZero() string {
	switch a {
	case Vec2:
		return "vec2<f32>(0.0)"
	case Vec4:
		return "vec4<f32>(0.0)"
	default:
		return "0.0"
	}
}

// Codec converts between logical values and texture pixels.
type Codec interface {
	// Tag identifies the codec.
	Tag() Tag

	// Format is the pixel format of every buffer the codec reads or writes.
	Format() PixelFormat

	// PixelsPerValue is the number of pixels one value of arity a occupies.
	PixelsPerValue(a Arity) int

	// Pack converts values (len a multiple of a) into pixel bytes.
	Pack(values []float32, a Arity) ([]byte, error)

	// Unpack converts pixel bytes back into values of arity a.
	Unpack(pixels []byte, a Arity) ([]float32, error)

	// Prelude returns WGSL helper functions shared by input and output code.
	Prelude() string

	// InputSource declares the storage binding for an input buffer and the
	// function read_<name>(k: u32) returning the value at logical index k.
	// Reads at k >= params.len_<name> return zero.
	InputSource(name string, a Arity, binding int) string

	// OutputSource declares the output binding and the compute entry point
	// that evaluates outputFor(k) for each logical index.
	OutputSource(a Arity, binding int) string
}

// New returns the codec for a tag.
func New(tag Tag) (Codec, error) {
	switch tag {
	case TagFloat:
		return FloatCodec{}, nil
	case TagByte:
		return ByteCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown tag %v", tag)
	}
}

// CheckFormat verifies that a buffer of format f can be used with c.
func CheckFormat(c Codec, f PixelFormat) error {
	if c.Format() != f {
		return fmt.Errorf("%w: buffer is %v, %v codec needs %v", ErrFormatMismatch, f, c.Tag(), c.Format())
	}
	return nil
}

// maxNarrow is the smallest float64 magnitude that rounds to infinity in float32.
const maxNarrow = math.MaxFloat32 + 0x1p103

// Narrow converts a host float64 to the float32 precision kernels operate in.
// Values round to nearest even. Magnitudes at or beyond the float32 overflow
// threshold become signed infinity and magnitudes below half the smallest
// subnormal flush to signed zero. NaN stays NaN.
func Narrow(x float64) float32 {
	switch {
	case x >= maxNarrow:
		return float32(math.Inf(1))
	case x <= -maxNarrow:
		return float32(math.Inf(-1))
	}
	return float32(x)
}

func checkValues(n int, a Arity) error {
	if !a.Valid() {
		return fmt.Errorf("%w: %d", ErrArity, int(a))
	}
	if n%int(a) != 0 {
		return fmt.Errorf("%w: %d values are not a multiple of %v", ErrArity, n, a)
	}
	return nil
}
