package texture

import (
	"fmt"
	"math/bits"
)

// Offset is an index delta expressed as a grid displacement.
type Offset struct {
	DX uint32
	DY uint32
}

// BitArg converts a single-bit index delta into a coordinate delta on a
// grid of the given width: (value mod width, value div width). For a
// power-of-two value and width exactly one component is non-zero.
func BitArg(value uint32, width int) Offset {
	w := uint32(width)
	return Offset{DX: value % w, DY: value / w}
}

// Split returns the default grid for 2^n cells:
// width 2^ceil(n/2), height 2^floor(n/2).
func Split(n int) (width, height int) {
	return 1 << ((n + 1) / 2), 1 << (n / 2)
}

// Coord returns the grid position of cell k.
func (t *Texture) Coord(k int) (x, y int) {
	return k % t.width, k / t.width
}

// Index returns the cell at grid position (x, y).
func (t *Texture) Index(x, y int) int {
	return y*t.width + x
}

// Bits returns log2 of the cell count.
func (t *Texture) Bits() int {
	return bits.TrailingZeros(uint(t.Size()))
}

// CeilPow2 returns the smallest power of two >= n (1 for n <= 1).
func CeilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func checkDims(width, height int) error {
	if width <= 0 || height <= 0 || width&(width-1) != 0 || height&(height-1) != 0 {
		return fmt.Errorf("%w: %dx%d is not a power-of-two grid", ErrSize, width, height)
	}
	if n := bits.TrailingZeros(uint(width)) + bits.TrailingZeros(uint(height)); n > MaxIndexBits {
		return fmt.Errorf("%w: %d index bits, max %d", ErrCapacity, n, MaxIndexBits)
	}
	return nil
}
