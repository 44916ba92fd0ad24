package qsim

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/qsim/kernel"
)

// Matrix is a 2×2 complex single-qubit operation [[A, B], [C, D]].
type Matrix = kernel.Matrix

// Identity returns the identity operation.
func Identity() Matrix {
	return Matrix{A: 1, D: 1}
}

// Hadamard returns the Hadamard gate.
func Hadamard() Matrix {
	s := complex(1/math32.Sqrt(2), 0)
	return Matrix{A: s, B: s, C: s, D: -s}
}

// PauliX returns the bit-flip gate.
func PauliX() Matrix {
	return Matrix{B: 1, C: 1}
}

// PauliY returns the Y gate.
func PauliY() Matrix {
	return Matrix{B: -1i, C: 1i}
}

// PauliZ returns the phase-flip gate.
func PauliZ() Matrix {
	return Matrix{A: 1, D: -1}
}

// Phase returns diag(1, e^{iθ}).
func Phase(theta float32) Matrix {
	return Matrix{A: 1, D: expi(theta)}
}

// RotationX returns exp(-iθX/2).
func RotationX(theta float32) Matrix {
	c, s := math32.Cos(theta/2), math32.Sin(theta/2)
	return Matrix{A: complex(c, 0), B: complex(0, -s), C: complex(0, -s), D: complex(c, 0)}
}

// RotationY returns exp(-iθY/2).
func RotationY(theta float32) Matrix {
	c, s := math32.Cos(theta/2), math32.Sin(theta/2)
	return Matrix{A: complex(c, 0), B: complex(-s, 0), C: complex(s, 0), D: complex(c, 0)}
}

// RotationZ returns exp(-iθZ/2).
func RotationZ(theta float32) Matrix {
	return Matrix{A: expi(-theta / 2), D: expi(theta / 2)}
}

func expi(theta float32) complex64 {
	return complex(math32.Cos(theta), math32.Sin(theta))
}

// Mul returns the product a·b.
func Mul(a, b Matrix) Matrix {
	return Matrix{
		A: a.A*b.A + a.B*b.C,
		B: a.A*b.B + a.B*b.D,
		C: a.C*b.A + a.D*b.C,
		D: a.C*b.B + a.D*b.D,
	}
}

// Dagger returns the conjugate transpose of m.
func Dagger(m Matrix) Matrix {
	return Matrix{A: conj(m.A), B: conj(m.C), C: conj(m.B), D: conj(m.D)}
}

func conj(c complex64) complex64 { return complex(real(c), -imag(c)) }

// IsUnitary reports whether m·m† is the identity within tol.
func IsUnitary(m Matrix, tol float32) bool {
	p := Mul(m, Dagger(m))
	near := func(c complex64, want float32) bool {
		return math32.Abs(real(c)-want) <= tol && math32.Abs(imag(c)) <= tol
	}
	return near(p.A, 1) && near(p.B, 0) && near(p.C, 0) && near(p.D, 1)
}
