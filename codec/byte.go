package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// ByteCodec stores each scalar of a value in its own RGBA8 pixel, so a value
// of arity a spans a consecutive pixels.
//
// The float's IEEE-754 word is rotated left by one bit and written
// big-endian across R, G, B, A: the exponent byte, the high and middle
// mantissa bytes, then the low seven mantissa bits followed by the sign.
// Zero encodes to four zero bytes and an exponent byte of 0xFF decodes to an
// infinity or NaN. The mapping is a bijection between float32 bit patterns
// and 4-byte pixels.
type ByteCodec struct{}

var _ Codec = ByteCodec{}

// Tag returns TagByte.
func (ByteCodec) Tag() Tag { return TagByte }

// Format returns FormatRGBA8.
func (ByteCodec) Format() PixelFormat { return FormatRGBA8 }

// PixelsPerValue is the value arity.
func (ByteCodec) PixelsPerValue(a Arity) int { return int(a) }

// EncodeFloat returns the pixel bytes for f.
func EncodeFloat(f float32) [4]byte {
	bits := math32.Float32bits(f)
	var px [4]byte
	binary.BigEndian.PutUint32(px[:], bits<<1|bits>>31)
	return px
}

// DecodeFloat returns the float stored in pixel bytes px.
func DecodeFloat(px [4]byte) float32 {
	r := binary.BigEndian.Uint32(px[:])
	return math32.Float32frombits(r>>1 | r<<31)
}

// Pack encodes every scalar into one pixel.
func (ByteCodec) Pack(values []float32, a Arity) ([]byte, error) {
	if err := checkValues(len(values), a); err != nil {
		return nil, err
	}
	out := make([]byte, len(values)*4)
	for i, v := range values {
		px := EncodeFloat(v)
		copy(out[i*4:], px[:])
	}
	return out, nil
}

// Unpack decodes every pixel into one scalar.
func (ByteCodec) Unpack(pixels []byte, a Arity) ([]float32, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrArity, int(a))
	}
	if len(pixels)%(4*int(a)) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %v values", ErrFormatMismatch, len(pixels), a)
	}
	out := make([]float32, len(pixels)/4)
	for i := range out {
		out[i] = DecodeFloat([4]byte(pixels[i*4 : i*4+4]))
	}
	return out, nil
}

// Prelude defines pack_float and unpack_float. A pixel is loaded as a u32
// with R in the low byte, so the rotated word is byte-swapped.
func (ByteCodec) Prelude() string {
	return `fn bswap(v: u32) -> u32 {
    return (v >> 24u) | ((v >> 8u) & 0xff00u) | ((v << 8u) & 0xff0000u) | (v << 24u);
}

fn pack_float(v: f32) -> u32 {
    let bits = bitcast<u32>(v);
    return bswap((bits << 1u) | (bits >> 31u));
}

fn unpack_float(px: u32) -> f32 {
    let r = bswap(px);
    return bitcast<f32>((r >> 1u) | (r << 31u));
}
`
}

// InputSource declares a read-only u32 array and its reader.
func (ByteCodec) InputSource(name string, a Arity, binding int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> tex_%s: array<u32>;\n\n", binding, name)
	fmt.Fprintf(&b, "fn read_%s(k: u32) -> %s {\n", name, a.WGSLType())
	fmt.Fprintf(&b, "    if (k >= params.len_%s) {\n        return %s;\n    }\n", name, a.WGSLZero())
	switch a {
	case Vec2:
		fmt.Fprintf(&b, "    let base = k * 2u;\n")
		fmt.Fprintf(&b, "    return vec2<f32>(unpack_float(tex_%[1]s[base]), unpack_float(tex_%[1]s[base + 1u]));\n", name)
	case Vec4:
		fmt.Fprintf(&b, "    let base = k * 4u;\n")
		fmt.Fprintf(&b, "    return vec4<f32>(unpack_float(tex_%[1]s[base]), unpack_float(tex_%[1]s[base + 1u]),\n", name)
		fmt.Fprintf(&b, "        unpack_float(tex_%[1]s[base + 2u]), unpack_float(tex_%[1]s[base + 3u]));\n", name)
	default:
		fmt.Fprintf(&b, "    return unpack_float(tex_%s[k]);\n", name)
	}
	b.WriteString("}\n")
	return b.String()
}

// OutputSource declares the output array and the entry point. Each
// invocation writes one channel of value p / arity.
func (ByteCodec) OutputSource(a Arity, binding int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> tex_out: array<u32>;\n\n", binding)
	b.WriteString(entryHeader)
	switch a {
	case Vec2:
		b.WriteString("    let v = outputFor(p / 2u);\n")
		b.WriteString("    tex_out[p] = pack_float(select(v.x, v.y, (p % 2u) == 1u));\n")
	case Vec4:
		b.WriteString("    let v = outputFor(p / 4u);\n")
		b.WriteString("    let c = p % 4u;\n")
		b.WriteString("    tex_out[p] = pack_float(select(select(v.x, v.y, c == 1u), select(v.z, v.w, c == 3u), c >= 2u));\n")
	default:
		b.WriteString("    tex_out[p] = pack_float(outputFor(p));\n")
	}
	b.WriteString("}\n")
	return b.String()
}
