package kernel

import (
	"fmt"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/texture"
)

func fillProgram() Program {
	return Program{
		Name:   "fill",
		Output: codec.Scalar,
		Params: []Param{{"value", F32}},
		Body: `
fn outputFor(k: u32) -> f32 {
    return params.p_value;
}`,
		Eval: func(e *Env, _ uint32) f32.Vec4 {
			return f32.Vec4{e.F(0)}
		},
	}
}

// Fill returns a scalar buffer of 2^bits cells all equal to v.
func (l *Library) Fill(bits int, v float32) (*texture.Texture, error) {
	p, err := l.program("fill", fillProgram)
	if err != nil {
		return nil, err
	}
	return l.runBits(p, bits, []uint32{Bits(v)})
}

func classicalProgram() Program {
	return Program{
		Name:   "classical_state",
		Output: codec.Vec2,
		Params: []Param{{"index", U32}},
		Body: `
fn outputFor(k: u32) -> vec2<f32> {
    return vec2<f32>(select(0.0, 1.0, k == params.p_index), 0.0);
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			if k == e.U(0) {
				return f32.Vec4{1}
			}
			return f32.Vec4{}
		},
	}
}

// ClassicalState returns the basis state |index⟩ of an n-qubit register:
// amplitude (1, 0) at index and zero elsewhere.
func (l *Library) ClassicalState(qubits int, index uint32) (*texture.Texture, error) {
	if qubits < 0 || qubits > texture.MaxIndexBits {
		return nil, fmt.Errorf("%w: %d qubits, max %d", texture.ErrCapacity, qubits, texture.MaxIndexBits)
	}
	if uint64(index) >= 1<<qubits {
		return nil, fmt.Errorf("%w: basis index %d out of range for %d qubits", ErrConfiguration, index, qubits)
	}
	p, err := l.program("classical_state", classicalProgram)
	if err != nil {
		return nil, err
	}
	return l.runBits(p, qubits, []uint32{index})
}

func overlayProgram(a codec.Arity) func() Program {
	return func() Program {
		return Program{
			Name:   "linear_overlay_" + a.String(),
			Inputs: []Input{{"fg", a}, {"bg", a}},
			Output: a,
			Params: []Param{{"offset", U32}},
			Body: fmt.Sprintf(`
fn outputFor(k: u32) -> %s {
    if (k < params.p_offset || k >= params.p_offset + params.len_fg) {
        return read_bg(k);
    }
    return read_fg(k - params.p_offset);
}`, a.WGSLType()),
			Eval: func(e *Env, k uint32) f32.Vec4 {
				off := e.U(0)
				if k < off || k >= off+e.Len(0) {
					return e.Read(1, k)
				}
				return e.Read(0, k-off)
			},
		}
	}
}

// LinearOverlay returns a copy of bg whose cells [offset, offset+size(fg))
// are replaced by fg, in linear index order. Both buffers must share an
// arity and fg must fit.
func (l *Library) LinearOverlay(offset int, fg, bg *texture.Texture) (*texture.Texture, error) {
	if err := fg.Check(); err != nil {
		return nil, err
	}
	if err := bg.Check(); err != nil {
		return nil, err
	}
	if fg.Arity() != bg.Arity() {
		return nil, fmt.Errorf("%w: overlay of %v onto %v", ErrConfiguration, fg.Arity(), bg.Arity())
	}
	if offset < 0 || offset+fg.Size() > bg.Size() {
		return nil, fmt.Errorf("%w: overlay of %d cells at offset %d exceeds %d cells",
			ErrConfiguration, fg.Size(), offset, bg.Size())
	}
	a := bg.Arity()
	p, err := l.program("linear_overlay_"+a.String(), overlayProgram(a))
	if err != nil {
		return nil, err
	}
	return l.run(p, bg.Width(), bg.Height(), []uint32{uint32(offset)}, fg, bg)
}

// Copy returns a new buffer with the contents of t.
func (l *Library) Copy(t *texture.Texture) (*texture.Texture, error) {
	return l.LinearOverlay(0, t, t)
}
