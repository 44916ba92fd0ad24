package qsim

import (
	"fmt"

	"github.com/gogpu/qsim/control"
)

// OpKind identifies the kind of a circuit column operation.
type OpKind int

const (
	// OpUnitary applies Matrix to Qubit.
	OpUnitary OpKind = iota

	// OpSwap exchanges Qubit and Other.
	OpSwap
)

// String returns the operation kind name.
func (k OpKind) String() string {
	switch k {
	case OpUnitary:
		return "Unitary"
	case OpSwap:
		return "Swap"
	default:
		return "Unknown"
	}
}

// Operation is one operation of a circuit column, applied where Controls
// allows.
type Operation struct {
	Kind     OpKind
	Qubit    int
	Other    int
	Matrix   Matrix
	Controls control.Mask
}

// Gate returns a unitary operation on qubit.
func Gate(m Matrix, qubit int) Operation {
	return Operation{Kind: OpUnitary, Qubit: qubit, Matrix: m}
}

// Controlled returns a unitary operation on qubit conditioned on mask.
func Controlled(m Matrix, qubit int, mask control.Mask) Operation {
	return Operation{Kind: OpUnitary, Qubit: qubit, Matrix: m, Controls: mask}
}

// Swap returns an operation exchanging qubits a and b.
func Swap(a, b int) Operation {
	return Operation{Kind: OpSwap, Qubit: a, Other: b}
}

func (op Operation) String() string {
	var s string
	switch op.Kind {
	case OpSwap:
		s = fmt.Sprintf("Swap(%d, %d)", op.Qubit, op.Other)
	default:
		s = fmt.Sprintf("%v(%d)", op.Kind, op.Qubit)
	}
	if !op.Controls.IsOpen() {
		s += " if " + op.Controls.String()
	}
	return s
}
