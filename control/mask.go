// Package control describes which basis states an operation may touch.
//
// A Mask pins some qubits to required values. A basis-state index is
// allowed when every pinned bit has its required value:
//
//	i & Inclusion == Desired & Inclusion
package control

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxBits is the widest state, in qubits, that mask-driven kernels accept.
const MaxBits = 24

var (
	// ErrInvalidMask is returned when Desired sets bits outside Inclusion or
	// the mask refers to qubits the state does not have.
	ErrInvalidMask = errors.New("control: invalid mask")

	// ErrCapacity is returned when a state is wider than MaxBits.
	ErrCapacity = errors.New("control: state exceeds mask capacity")
)

// Mask is an immutable pair of bit sets. Inclusion marks control qubits and
// Desired gives their required values.
type Mask struct {
	Inclusion uint32
	Desired   uint32
}

// None is the fully open mask: every index is allowed.
var None = Mask{}

// New returns a mask with the given inclusion and desired bits.
func New(inclusion, desired uint32) (Mask, error) {
	m := Mask{Inclusion: inclusion, Desired: desired}
	if desired&^inclusion != 0 {
		return Mask{}, fmt.Errorf("%w: desired %#b outside inclusion %#b", ErrInvalidMask, desired, inclusion)
	}
	return m, nil
}

// On returns a mask requiring qubit q to be 1.
func On(q int) Mask {
	return Mask{Inclusion: 1 << q, Desired: 1 << q}
}

// Off returns a mask requiring qubit q to be 0.
func Off(q int) Mask {
	return Mask{Inclusion: 1 << q}
}

// And combines two masks. The result requires both sets of constraints; it
// is invalid if they pin the same qubit to different values.
func (m Mask) And(o Mask) (Mask, error) {
	shared := m.Inclusion & o.Inclusion
	if m.Desired&shared != o.Desired&shared {
		return Mask{}, fmt.Errorf("%w: conflicting requirements on %#b", ErrInvalidMask, shared)
	}
	return Mask{Inclusion: m.Inclusion | o.Inclusion, Desired: m.Desired | o.Desired}, nil
}

// Allows reports whether basis-state index i satisfies the mask.
func (m Mask) Allows(i uint32) bool {
	return i&m.Inclusion == m.Desired&m.Inclusion
}

// IsOpen reports whether the mask constrains nothing.
func (m Mask) IsOpen() bool {
	return m.Inclusion == 0
}

// IncludedBitCount returns the number of control qubits.
func (m Mask) IncludedBitCount() int {
	return bits.OnesCount32(m.Inclusion)
}

// Validate checks the mask against a state of the given width.
func (m Mask) Validate(qubits int) error {
	if qubits > MaxBits {
		return fmt.Errorf("%w: %d qubits, max %d", ErrCapacity, qubits, MaxBits)
	}
	if m.Desired&^m.Inclusion != 0 {
		return fmt.Errorf("%w: desired %#b outside inclusion %#b", ErrInvalidMask, m.Desired, m.Inclusion)
	}
	if m.Inclusion>>qubits != 0 {
		return fmt.Errorf("%w: inclusion %#b exceeds %d qubits", ErrInvalidMask, m.Inclusion, qubits)
	}
	return nil
}

// Scatter maps a dense index over the free (non-control) qubits to the full
// index with control bits set to their desired values. It is a bijection
// from [0, 2^(n-c)) onto the allowed indices of an n-qubit state.
func (m Mask) Scatter(j uint32) uint32 {
	return Deposit(j, ^m.Inclusion) | m.Desired&m.Inclusion
}

// Gather is the inverse of Scatter on allowed indices.
func (m Mask) Gather(i uint32) uint32 {
	return Extract(i, ^m.Inclusion)
}

// String formats the mask as one character per qubit, most significant
// first: '1' and '0' for controls, '.' for free qubits.
func (m Mask) String() string {
	if m.IsOpen() {
		return "open"
	}
	n := 32 - bits.LeadingZeros32(m.Inclusion)
	buf := make([]byte, n)
	for q := 0; q < n; q++ {
		c := byte('.')
		if m.Inclusion&(1<<q) != 0 {
			c = '0'
			if m.Desired&(1<<q) != 0 {
				c = '1'
			}
		}
		buf[n-1-q] = c
	}
	return string(buf)
}

// Deposit spreads the low bits of v into the set bit positions of mask,
// lowest first.
func Deposit(v, mask uint32) uint32 {
	var out uint32
	for rem := mask; rem != 0 && v != 0; rem &= rem - 1 {
		if v&1 != 0 {
			out |= rem & -rem
		}
		v >>= 1
	}
	return out
}

// Extract collects the bits of v at the set positions of mask into the low
// bits of the result. It inverts Deposit.
func Extract(v, mask uint32) uint32 {
	var out uint32
	var k uint
	for rem := mask; rem != 0; rem &= rem - 1 {
		if v&(rem&-rem) != 0 {
			out |= 1 << k
		}
		k++
	}
	return out
}
