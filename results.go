package qsim

import (
	"fmt"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/floats"

	"github.com/gogpu/qsim/kernel"
)

// Density2 is one qubit's reduced density matrix
// [[P0, Coherence], [conj(Coherence), P1]].
type Density2 = kernel.QubitDensity

// Conditional is one qubit's conditional-probability summary.
type Conditional = kernel.Conditional

// Bloch returns the Bloch vector of d, normalized by its trace. A density
// with zero trace yields the zero vector.
func Bloch(d Density2) (x, y, z float32) {
	tr := d.P0 + d.P1
	if tr == 0 {
		return 0, 0, 0
	}
	return 2 * real(d.Coherence) / tr, -2 * imag(d.Coherence) / tr, (d.P0 - d.P1) / tr
}

// Purity returns tr(ρ²)/tr(ρ)² of d: 1 for a pure qubit, 1/2 for a
// maximally mixed one.
func Purity(d Density2) float32 {
	tr := d.P0 + d.P1
	if tr == 0 {
		return 0
	}
	c := real(d.Coherence)*real(d.Coherence) + imag(d.Coherence)*imag(d.Coherence)
	return (d.P0*d.P0 + d.P1*d.P1 + 2*c) / (tr * tr)
}

// DensityMatrix is the reduced density matrix of a subset of qubits.
type DensityMatrix struct {
	// Qubits lists the kept qubits; Qubits[b] is bit b of the row and
	// column indices.
	Qubits []int

	// Dim is 2^len(Qubits).
	Dim int

	// Data holds Dim×Dim entries in row-major order, each as (re, im).
	Data []float32
}

// At returns entry (r, c).
func (m *DensityMatrix) At(r, c int) complex64 {
	i := 2 * (r*m.Dim + c)
	return complex(m.Data[i], m.Data[i+1])
}

// Diagonal returns the real diagonal.
func (m *DensityMatrix) Diagonal() []float64 {
	d := make([]float64, m.Dim)
	for r := range d {
		d[r] = float64(m.Data[2*(r*m.Dim+r)])
	}
	return d
}

// Trace returns the sum of the diagonal: the probability that the
// controls the matrix was taken under are satisfied.
func (m *DensityMatrix) Trace() float64 {
	return floats.Sum(m.Diagonal())
}

// Normalized returns a copy of m scaled to unit trace.
// It fails when the trace is zero.
func (m *DensityMatrix) Normalized() (*DensityMatrix, error) {
	tr := float32(m.Trace())
	if tr == 0 {
		return nil, fmt.Errorf("qsim: density matrix has zero trace")
	}
	out := &DensityMatrix{Qubits: append([]int(nil), m.Qubits...), Dim: m.Dim, Data: make([]float32, len(m.Data))}
	for i, v := range m.Data {
		out.Data[i] = v / tr
	}
	return out, nil
}

// IsHermitian reports whether m equals its conjugate transpose within tol.
func (m *DensityMatrix) IsHermitian(tol float32) bool {
	for r := 0; r < m.Dim; r++ {
		for c := r; c < m.Dim; c++ {
			a, b := m.At(r, c), m.At(c, r)
			if math32.Abs(real(a)-real(b)) > tol || math32.Abs(imag(a)+imag(b)) > tol {
				return false
			}
		}
	}
	return true
}

// TotalProbability returns the sum of a probability vector.
func TotalProbability(probs []float32) float64 {
	return floats.Sum(widen(probs))
}

// MostLikely returns the basis state with the largest probability.
func MostLikely(probs []float32) (index int, p float32) {
	if len(probs) == 0 {
		return -1, 0
	}
	index = floats.MaxIdx(widen(probs))
	return index, probs[index]
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Batch holds results read back together by Engine.ReadBatch.
type Batch struct {
	// Densities holds every qubit's reduced density matrix.
	Densities []Density2

	// Conditionals holds, per requested mask, one summary per qubit.
	Conditionals [][]Conditional
}
