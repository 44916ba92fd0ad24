package kernel

import (
	"fmt"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/texture"
)

func controlMaskProgram() Program {
	return Program{
		Name:   "control_mask",
		Output: codec.Scalar,
		Params: []Param{{"inclusion", U32}, {"desired", U32}},
		Body: `
fn outputFor(k: u32) -> f32 {
    return select(0.0, 1.0, (k & params.p_inclusion) == (params.p_desired & params.p_inclusion));
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			if (control.Mask{Inclusion: e.U(0), Desired: e.U(1)}).Allows(k) {
				return f32.Vec4{1}
			}
			return f32.Vec4{}
		},
	}
}

// ControlMask renders m over an n-qubit index space: 1.0 where the mask
// allows the index and 0.0 elsewhere. An open mask renders a uniform 1.0
// buffer without evaluating the mask.
func (l *Library) ControlMask(m control.Mask, qubits int) (*texture.Texture, error) {
	if err := checkQubits(qubits); err != nil {
		return nil, err
	}
	if err := checkMask(m, qubits); err != nil {
		return nil, err
	}
	if m.IsOpen() {
		return l.Fill(qubits, 1)
	}
	p, err := l.program("control_mask", controlMaskProgram)
	if err != nil {
		return nil, err
	}
	return l.runBits(p, qubits, []uint32{m.Inclusion, m.Desired})
}

func controlSelectProgram(a codec.Arity) func() Program {
	return func() Program {
		return Program{
			Name:   "control_select_" + a.String(),
			Inputs: []Input{{"data", a}},
			Output: a,
			Params: []Param{{"inclusion", U32}, {"desired", U32}, {"bits", U32}},
			Body: fmt.Sprintf(`
fn outputFor(k: u32) -> %s {
    var idx = params.p_desired & params.p_inclusion;
    var rest = k;
    for (var i = 0u; i < params.p_bits; i = i + 1u) {
        let bit = 1u << i;
        if ((params.p_inclusion & bit) == 0u) {
            idx = idx | ((rest & 1u) * bit);
            rest = rest >> 1u;
        }
    }
    return read_data(idx);
}`, a.WGSLType()),
			Eval: func(e *Env, k uint32) f32.Vec4 {
				m := control.Mask{Inclusion: e.U(0), Desired: e.U(1)}
				return e.Read(0, m.Scatter(k))
			},
		}
	}
}

// ControlSelect compacts data to the indices m allows. Output cell j holds
// data at the j-th allowed index in increasing order; the output has
// size(data) >> m.IncludedBitCount() cells.
func (l *Library) ControlSelect(m control.Mask, data *texture.Texture) (*texture.Texture, error) {
	if err := data.Check(); err != nil {
		return nil, err
	}
	qubits := data.Bits()
	if err := checkQubits(qubits); err != nil {
		return nil, err
	}
	if err := checkMask(m, qubits); err != nil {
		return nil, err
	}
	a := data.Arity()
	p, err := l.program("control_select_"+a.String(), controlSelectProgram(a))
	if err != nil {
		return nil, err
	}
	return l.runBits(p, qubits-m.IncludedBitCount(),
		[]uint32{m.Inclusion, m.Desired, uint32(qubits)}, data)
}
