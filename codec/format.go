package codec

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// PixelFormat is the storage format of a texture buffer.
type PixelFormat uint8

const (
	// FormatRGBA32F stores four 32-bit floats per pixel.
	FormatRGBA32F PixelFormat = iota

	// FormatRGBA8 stores four bytes per pixel.
	FormatRGBA8
)

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA32F:
		return "RGBA32F"
	case FormatRGBA8:
		return "RGBA8"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// BytesPerPixel returns the number of bytes per pixel for the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA32F:
		return 16
	default:
		return 4
	}
}

// GPUFormat converts to the equivalent gputypes.TextureFormat. It is used to
// query the adapter for float storage support when picking a codec.
func (f PixelFormat) GPUFormat() gputypes.TextureFormat {
	switch f {
	case FormatRGBA32F:
		return gputypes.TextureFormatRGBA32Float
	default:
		return gputypes.TextureFormatRGBA8Unorm
	}
}
