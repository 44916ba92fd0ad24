package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// FloatCodec stores each value in a single RGBA32F pixel. Unused channels
// are written as zero and ignored on read.
type FloatCodec struct{}

var _ Codec = FloatCodec{}

// Tag returns TagFloat.
func (FloatCodec) Tag() Tag { return TagFloat }

// Format returns FormatRGBA32F.
func (FloatCodec) Format() PixelFormat { return FormatRGBA32F }

// PixelsPerValue is always 1.
func (FloatCodec) PixelsPerValue(Arity) int { return 1 }

// Pack writes each value into one pixel, channels in order, little-endian.
func (FloatCodec) Pack(values []float32, a Arity) ([]byte, error) {
	if err := checkValues(len(values), a); err != nil {
		return nil, err
	}
	n := len(values) / int(a)
	out := make([]byte, n*FormatRGBA32F.BytesPerPixel())
	for i := 0; i < n; i++ {
		px := out[i*16 : i*16+16]
		for c := 0; c < int(a); c++ {
			binary.LittleEndian.PutUint32(px[c*4:], math32.Float32bits(values[i*int(a)+c]))
		}
	}
	return out, nil
}

// Unpack reads the first a channels of each pixel.
func (FloatCodec) Unpack(pixels []byte, a Arity) ([]float32, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrArity, int(a))
	}
	if len(pixels)%16 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of RGBA32F pixels", ErrFormatMismatch, len(pixels))
	}
	n := len(pixels) / 16
	out := make([]float32, n*int(a))
	for i := 0; i < n; i++ {
		for c := 0; c < int(a); c++ {
			out[i*int(a)+c] = math32.Float32frombits(binary.LittleEndian.Uint32(pixels[i*16+c*4:]))
		}
	}
	return out, nil
}

// Prelude is empty for float storage.
func (FloatCodec) Prelude() string { return "" }

// InputSource declares a read-only vec4 array and its reader.
func (FloatCodec) InputSource(name string, a Arity, binding int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> tex_%s: array<vec4<f32>>;\n\n", binding, name)
	fmt.Fprintf(&b, "fn read_%s(k: u32) -> %s {\n", name, a.WGSLType())
	fmt.Fprintf(&b, "    if (k >= params.len_%s) {\n        return %s;\n    }\n", name, a.WGSLZero())
	fmt.Fprintf(&b, "    return tex_%s[k]%s;\n}\n", name, swizzle(a))
	return b.String()
}

// OutputSource declares the output array and the entry point.
func (FloatCodec) OutputSource(a Arity, binding int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> tex_out: array<vec4<f32>>;\n\n", binding)
	b.WriteString(entryHeader)
	b.WriteString("    let v = outputFor(p);\n")
	switch a {
	case Vec2:
		b.WriteString("    tex_out[p] = vec4<f32>(v, 0.0, 0.0);\n")
	case Vec4:
		b.WriteString("    tex_out[p] = v;\n")
	default:
		b.WriteString("    tex_out[p] = vec4<f32>(v, 0.0, 0.0, 0.0);\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// WorkgroupSize is the edge of the square compute workgroup declared by
// every entry point. Dispatches cover the physical grid in these tiles.
const WorkgroupSize = 8

// entryHeader opens the compute entry point and computes the physical pixel
// index p, returning early for invocations outside the buffer.
const entryHeader = `@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= params.phys_width) {
        return;
    }
    let p = gid.y * params.phys_width + gid.x;
    if (p >= params.phys_len) {
        return;
    }
`

func swizzle(a Arity) string {
	switch a {
	case Vec2:
		return ".xy"
	case Vec4:
		return ""
	default:
		return ".x"
	}
}
