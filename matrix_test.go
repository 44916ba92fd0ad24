package qsim

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/gogpu/qsim/control"
)

func TestGatesAreUnitary(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix
	}{
		{"Identity", Identity()},
		{"Hadamard", Hadamard()},
		{"PauliX", PauliX()},
		{"PauliY", PauliY()},
		{"PauliZ", PauliZ()},
		{"Phase", Phase(0.3)},
		{"RotationX", RotationX(1.2)},
		{"RotationY", RotationY(-2.5)},
		{"RotationZ", RotationZ(math32.Pi / 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !IsUnitary(tt.m, 1e-6) {
				t.Errorf("IsUnitary(%s) = false, want true", tt.name)
			}
		})
	}
	if IsUnitary(Matrix{A: 1, B: 1, C: 0, D: 1}, 1e-6) {
		t.Error("IsUnitary(shear) = true, want false")
	}
}

func TestGateIdentities(t *testing.T) {
	near := func(a, b Matrix) bool {
		d := []complex64{a.A - b.A, a.B - b.B, a.C - b.C, a.D - b.D}
		for _, c := range d {
			if math32.Abs(real(c)) > 1e-6 || math32.Abs(imag(c)) > 1e-6 {
				return false
			}
		}
		return true
	}
	if got := Mul(Hadamard(), Hadamard()); !near(got, Identity()) {
		t.Errorf("H·H = %v, want identity", got)
	}
	if got := Mul(PauliX(), PauliX()); !near(got, Identity()) {
		t.Errorf("X·X = %v, want identity", got)
	}
	if got := Phase(math32.Pi); !near(got, PauliZ()) {
		t.Errorf("Phase(π) = %v, want Z", got)
	}
	if got := Mul(PauliY(), Dagger(PauliY())); !near(got, Identity()) {
		t.Errorf("Y·Y† = %v, want identity", got)
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{Gate(Hadamard(), 0), "Unitary(0)"},
		{Swap(1, 3), "Swap(1, 3)"},
		{Controlled(PauliX(), 2, control.On(0)), "Unitary(2) if " + control.On(0).String()},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if got := OpKind(5).String(); got != "Unknown" {
		t.Errorf("OpKind(5).String() = %q, want %q", got, "Unknown")
	}
}

func TestBlochAndPurity(t *testing.T) {
	tests := []struct {
		name    string
		d       Density2
		x, y, z float32
		purity  float32
	}{
		{"zero", Density2{P0: 1}, 0, 0, 1, 1},
		{"one", Density2{P1: 1}, 0, 0, -1, 1},
		{"plus", Density2{P0: 0.5, P1: 0.5, Coherence: 0.5}, 1, 0, 0, 1},
		{"plus i", Density2{P0: 0.5, P1: 0.5, Coherence: -0.5i}, 0, 1, 0, 1},
		{"mixed", Density2{P0: 0.5, P1: 0.5}, 0, 0, 0, 0.5},
		{"unnormalized", Density2{P0: 0.25}, 0, 0, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, z := Bloch(tt.d)
			if !near(x, tt.x, 1e-6) || !near(y, tt.y, 1e-6) || !near(z, tt.z, 1e-6) {
				t.Errorf("Bloch() = (%v, %v, %v), want (%v, %v, %v)", x, y, z, tt.x, tt.y, tt.z)
			}
			if got := Purity(tt.d); !near(got, tt.purity, 1e-6) {
				t.Errorf("Purity() = %v, want %v", got, tt.purity)
			}
		})
	}
}

func TestMostLikely(t *testing.T) {
	i, p := MostLikely([]float32{0.1, 0.6, 0.3})
	if i != 1 || !near(p, 0.6, 1e-6) {
		t.Errorf("MostLikely() = (%d, %v), want (1, 0.6)", i, p)
	}
	if i, _ = MostLikely(nil); i != -1 {
		t.Errorf("MostLikely(nil) index = %d, want -1", i)
	}
}
