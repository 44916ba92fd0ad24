package kernel

import (
	"fmt"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/texture"
)

// Matrix is a 2×2 complex matrix in row-major order: [[A, B], [C, D]].
type Matrix struct {
	A, B, C, D complex64
}

func cmul(a, b [2]float32) [2]float32 {
	return [2]float32{a[0]*b[0] - a[1]*b[1], a[0]*b[1] + a[1]*b[0]}
}

func parts(c complex64) [2]float32 {
	return [2]float32{real(c), imag(c)}
}

func qubitOperationProgram() Program {
	return Program{
		Name:   "qubit_operation",
		Inputs: []Input{{"state", codec.Vec2}, {"control", codec.Scalar}},
		Output: codec.Vec2,
		Params: []Param{
			{"qubit", U32}, {"dx", U32}, {"dy", U32},
			{"a_re", F32}, {"a_im", F32}, {"b_re", F32}, {"b_im", F32},
			{"c_re", F32}, {"c_im", F32}, {"d_re", F32}, {"d_im", F32},
		},
		Body: `
fn cmul(a: vec2<f32>, b: vec2<f32>) -> vec2<f32> {
    return vec2<f32>(a.x * b.x - a.y * b.y, a.x * b.y + a.y * b.x);
}

fn outputFor(k: u32) -> vec2<f32> {
    let amp = read_state(k);
    if (read_control(k) == 0.0) {
        return amp;
    }
    let x = k % params.out_width;
    let y = k / params.out_width;
    var px = x + params.p_dx;
    var py = y + params.p_dy;
    var u = vec2<f32>(params.p_a_re, params.p_a_im);
    var v = vec2<f32>(params.p_b_re, params.p_b_im);
    if (((k >> params.p_qubit) & 1u) == 1u) {
        px = x - params.p_dx;
        py = y - params.p_dy;
        u = vec2<f32>(params.p_d_re, params.p_d_im);
        v = vec2<f32>(params.p_c_re, params.p_c_im);
    }
    let partner = read_state(py * params.out_width + px);
    return cmul(u, amp) + cmul(v, partner);
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			amp := e.Read(0, k)
			if e.Read(1, k)[0] == 0 {
				return amp
			}
			w := e.Width()
			x, y := k%w, k/w
			px, py := x+e.U(1), y+e.U(2)
			u := [2]float32{e.F(3), e.F(4)}
			v := [2]float32{e.F(5), e.F(6)}
			if (k>>e.U(0))&1 == 1 {
				px, py = x-e.U(1), y-e.U(2)
				u = [2]float32{e.F(9), e.F(10)}
				v = [2]float32{e.F(7), e.F(8)}
			}
			partner := e.Read(0, py*w+px)
			s := cmul(u, [2]float32{amp[0], amp[1]})
			t := cmul(v, [2]float32{partner[0], partner[1]})
			return f32.Vec4{s[0] + t[0], s[1] + t[1]}
		},
	}
}

// QubitOperation applies m to one qubit of state. Cells where controls is
// zero pass through unchanged; a nil controls buffer applies m everywhere.
//
// The partner of cell i is i with the qubit's bit flipped, located through
// the grid offset texture.BitArg(1<<qubit, width). A cell whose bit is 0
// becomes A·self + B·partner, one whose bit is 1 becomes D·self + C·partner.
func (l *Library) QubitOperation(state *texture.Texture, m Matrix, qubit int, controls *texture.Texture) (*texture.Texture, error) {
	qubits, err := stateQubits(state)
	if err != nil {
		return nil, err
	}
	if err := checkQubit(qubit, qubits); err != nil {
		return nil, err
	}
	if err := checkControls(controls, state); err != nil {
		return nil, err
	}
	if controls == nil {
		all, err := l.Fill(qubits, 1)
		if err != nil {
			return nil, err
		}
		defer func() { _ = all.Release() }()
		controls = all
	}
	p, err := l.program("qubit_operation", qubitOperationProgram)
	if err != nil {
		return nil, err
	}
	off := texture.BitArg(1<<qubit, state.Width())
	a, b, c, d := parts(m.A), parts(m.B), parts(m.C), parts(m.D)
	values := []uint32{
		uint32(qubit), off.DX, off.DY,
		Bits(a[0]), Bits(a[1]), Bits(b[0]), Bits(b[1]),
		Bits(c[0]), Bits(c[1]), Bits(d[0]), Bits(d[1]),
	}
	return l.run(p, state.Width(), state.Height(), values, state, controls)
}

// ApplyControlled renders mask and applies m to qubit where it allows.
func (l *Library) ApplyControlled(state *texture.Texture, m Matrix, qubit int, mask control.Mask) (*texture.Texture, error) {
	if mask.IsOpen() {
		return l.QubitOperation(state, m, qubit, nil)
	}
	qubits, err := stateQubits(state)
	if err != nil {
		return nil, err
	}
	ctrl, err := l.ControlMask(mask, qubits)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ctrl.Release() }()
	return l.QubitOperation(state, m, qubit, ctrl)
}

func swapProgram() Program {
	return Program{
		Name:   "swap",
		Inputs: []Input{{"state", codec.Vec2}, {"control", codec.Scalar}},
		Output: codec.Vec2,
		Params: []Param{{"qubit_a", U32}, {"qubit_b", U32}},
		Body: `
fn outputFor(k: u32) -> vec2<f32> {
    let a = (k >> params.p_qubit_a) & 1u;
    let b = (k >> params.p_qubit_b) & 1u;
    if (a == b || read_control(k) == 0.0) {
        return read_state(k);
    }
    return read_state(k ^ ((1u << params.p_qubit_a) | (1u << params.p_qubit_b)));
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			qa, qb := e.U(0), e.U(1)
			if (k>>qa)&1 == (k>>qb)&1 || e.Read(1, k)[0] == 0 {
				return e.Read(0, k)
			}
			return e.Read(0, k^(1<<qa|1<<qb))
		},
	}
}

// Swap exchanges qubits a and b of state where controls is non-zero. A nil
// controls buffer swaps everywhere.
func (l *Library) Swap(state *texture.Texture, a, b int, controls *texture.Texture) (*texture.Texture, error) {
	qubits, err := stateQubits(state)
	if err != nil {
		return nil, err
	}
	if err := checkQubit(a, qubits); err != nil {
		return nil, err
	}
	if err := checkQubit(b, qubits); err != nil {
		return nil, err
	}
	if err := checkControls(controls, state); err != nil {
		return nil, err
	}
	if controls == nil {
		all, err := l.Fill(qubits, 1)
		if err != nil {
			return nil, err
		}
		defer func() { _ = all.Release() }()
		controls = all
	}
	p, err := l.program("swap", swapProgram)
	if err != nil {
		return nil, err
	}
	return l.run(p, state.Width(), state.Height(), []uint32{uint32(a), uint32(b)}, state, controls)
}

// SwapControlled renders mask and swaps a and b where it allows.
func (l *Library) SwapControlled(state *texture.Texture, a, b int, mask control.Mask) (*texture.Texture, error) {
	if mask.IsOpen() {
		return l.Swap(state, a, b, nil)
	}
	qubits, err := stateQubits(state)
	if err != nil {
		return nil, err
	}
	ctrl, err := l.ControlMask(mask, qubits)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ctrl.Release() }()
	return l.Swap(state, a, b, ctrl)
}

// checkControls verifies a control buffer matches state cell for cell.
func checkControls(controls, state *texture.Texture) error {
	if controls == nil {
		return nil
	}
	if err := controls.Check(); err != nil {
		return err
	}
	if controls.Size() != state.Size() || controls.Width() != state.Width() {
		return fmt.Errorf("%w: control buffer %v does not match state %v", ErrConfiguration, controls, state)
	}
	return nil
}
