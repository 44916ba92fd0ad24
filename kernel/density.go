package kernel

import (
	"fmt"
	"math/bits"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/texture"
)

func qubitDensitiesProgram() Program {
	return Program{
		Name:   "all_qubit_densities",
		Inputs: []Input{{"state", codec.Vec2}},
		Output: codec.Vec4,
		Params: []Param{{"qubits", U32}, {"stride", U32}},
		Body: `
fn outputFor(k: u32) -> vec4<f32> {
    let q = k % params.p_stride;
    if (q >= params.p_qubits) {
        return vec4<f32>(0.0);
    }
    let rest = k / params.p_stride;
    let low = rest & ((1u << q) - 1u);
    let i0 = ((rest ^ low) << 1u) | low;
    let a = read_state(i0);
    let b = read_state(i0 | (1u << q));
    return vec4<f32>(a.x * a.x + a.y * a.y, a.x * b.x + a.y * b.y, a.y * b.x - a.x * b.y, b.x * b.x + b.y * b.y);
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			stride := e.U(1)
			q := k % stride
			if q >= e.U(0) {
				return f32.Vec4{}
			}
			rest := k / stride
			low := rest & (1<<q - 1)
			i0 := (rest^low)<<1 | low
			a, b := e.Read(0, i0), e.Read(0, i0|1<<q)
			return f32.Vec4{
				a[0]*a[0] + a[1]*a[1],
				a[0]*b[0] + a[1]*b[1],
				a[1]*b[0] - a[0]*b[1],
				b[0]*b[0] + b[1]*b[1],
			}
		},
	}
}

// AllQubitDensities returns, for every qubit q and every assignment of the
// other qubits, the contribution (|a0|², Re a0·ā1, Im a0·ā1, |a1|²) of the
// amplitude pair that differs only in q. The record for q lives at
// rest·ceilPow2(n) + q, so PowerSum down to ceilPow2(n) cells yields each
// qubit's reduced density matrix.
func (l *Library) AllQubitDensities(state *texture.Texture) (*texture.Texture, error) {
	qubits, err := stateQubits(state)
	if err != nil {
		return nil, err
	}
	if err := checkQubits(qubits); err != nil {
		return nil, err
	}
	p, err := l.program("all_qubit_densities", qubitDensitiesProgram)
	if err != nil {
		return nil, err
	}
	stride := texture.CeilPow2(qubits)
	return l.runBits(p, log2(stride)+qubits-1, []uint32{uint32(qubits), uint32(stride)}, state)
}

func powerSumProgram(a codec.Arity, horizontal bool) func() Program {
	if horizontal {
		return func() Program {
			return Program{
				Name:   "power_sum_x_" + a.String(),
				Inputs: []Input{{"src", a}},
				Output: a,
				Body: fmt.Sprintf(`
fn outputFor(k: u32) -> %s {
    let x = k %% params.out_width;
    let y = k / params.out_width;
    let i = y * params.out_width * 2u + x;
    return read_src(i) + read_src(i + params.out_width);
}`, a.WGSLType()),
				Eval: func(e *Env, k uint32) f32.Vec4 {
					w := e.Width()
					i := (k/w)*w*2 + k%w
					return add4(e.Read(0, i), e.Read(0, i+w))
				},
			}
		}
	}
	return func() Program {
		return Program{
			Name:   "power_sum_y_" + a.String(),
			Inputs: []Input{{"src", a}},
			Output: a,
			Body: fmt.Sprintf(`
fn outputFor(k: u32) -> %s {
    return read_src(k) + read_src(k + params.out_width * params.out_height);
}`, a.WGSLType()),
			Eval: func(e *Env, k uint32) f32.Vec4 {
				return add4(e.Read(0, k), e.Read(0, k+e.Width()*e.Height()))
			},
		}
	}
}

func add4(a, b f32.Vec4) f32.Vec4 {
	return f32.Vec4{a[0] + b[0], a[1] + b[1], a[2] + b[2], a[3] + b[3]}
}

// PowerSum folds buf by repeatedly halving one dimension and adding the two
// halves, until count cells remain. The width is halved while it exceeds
// both count and the height, otherwise the height. Cell c of the result is
// the sum of every input cell whose index is congruent to c mod count.
// count must be a power of two no larger than size(buf).
func (l *Library) PowerSum(buf *texture.Texture, count int) (*texture.Texture, error) {
	if err := buf.Check(); err != nil {
		return nil, err
	}
	if count < 1 || count&(count-1) != 0 || count > buf.Size() {
		return nil, fmt.Errorf("%w: power sum of %d cells to %d", ErrConfiguration, buf.Size(), count)
	}
	if buf.Size() == count {
		return l.Copy(buf)
	}
	a := buf.Arity()
	cur := buf
	for cur.Size() > count {
		w, h := cur.Width(), cur.Height()
		horizontal := w > count && w > h
		name := "power_sum_y_" + a.String()
		if horizontal {
			name = "power_sum_x_" + a.String()
			w /= 2
		} else {
			h /= 2
		}
		p, err := l.program(name, powerSumProgram(a, horizontal))
		if err != nil {
			return nil, err
		}
		next, err := l.run(p, w, h, nil, cur)
		if cur != buf {
			_ = cur.Release()
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Total sums every cell of buf into a single cell.
func (l *Library) Total(buf *texture.Texture) (*texture.Texture, error) {
	return l.PowerSum(buf, 1)
}

// QubitDensities returns ceilPow2(n) vec4 cells; cell q (q < n) holds
// qubit q's reduced density matrix as (ρ00, Re ρ01, Im ρ01, ρ11).
func (l *Library) QubitDensities(state *texture.Texture) (*texture.Texture, error) {
	records, err := l.AllQubitDensities(state)
	if err != nil {
		return nil, err
	}
	defer func() { _ = records.Release() }()
	return l.PowerSum(records, texture.CeilPow2(state.Bits()))
}

// QubitDensity is a single-qubit reduced density matrix
// [[P0, Coherence], [conj(Coherence), P1]].
type QubitDensity struct {
	Qubit     int
	P0        float32
	Coherence complex64
	P1        float32
}

// DecodeQubitDensities converts the values of a QubitDensities result.
func DecodeQubitDensities(values []float32, qubits int) ([]QubitDensity, error) {
	if len(values) < qubits*4 {
		return nil, fmt.Errorf("%w: %d values for %d qubit densities", ErrConfiguration, len(values), qubits)
	}
	out := make([]QubitDensity, qubits)
	for q := range out {
		r := values[q*4 : q*4+4]
		out[q] = QubitDensity{Qubit: q, P0: r[0], Coherence: complex(r[1], r[2]), P1: r[3]}
	}
	return out, nil
}

// densityProgram specializes the density-matrix kernel for a number of
// margin and kept qubits. The counts become WGSL constants so the loops
// have fixed trip counts.
func densityProgram(margin, kept int) func() Program {
	return func() Program {
		return Program{
			Name:   fmt.Sprintf("density_matrix_m%d_k%d", margin, kept),
			Inputs: []Input{{"state", codec.Vec2}},
			Output: codec.Vec2,
			Params: []Param{{"kept", U32}, {"margin", U32}, {"inclusion", U32}, {"desired", U32}},
			Body: fmt.Sprintf(`
const KEPT_BITS: u32 = %du;
const MARGIN_BITS: u32 = %du;
const MARGIN_STATES: u32 = %du;

fn deposit(v: u32, mask: u32, n: u32) -> u32 {
    var res = 0u;
    var rem = mask;
    for (var i = 0u; i < n; i = i + 1u) {
        let low = rem & (~rem + 1u);
        if (((v >> i) & 1u) == 1u) {
            res = res | low;
        }
        rem = rem & (rem - 1u);
    }
    return res;
}

fn outputFor(k: u32) -> vec2<f32> {
    let row = k >> KEPT_BITS;
    let col = k & ((1u << KEPT_BITS) - 1u);
    let pinned = params.p_desired & params.p_inclusion;
    let row_base = pinned | deposit(row, params.p_kept, KEPT_BITS);
    let col_base = pinned | deposit(col, params.p_kept, KEPT_BITS);
    var acc = vec2<f32>(0.0, 0.0);
    for (var m = 0u; m < MARGIN_STATES; m = m + 1u) {
        let spread = deposit(m, params.p_margin, MARGIN_BITS);
        let a = read_state(row_base | spread);
        let b = read_state(col_base | spread);
        acc = acc + vec2<f32>(a.x * b.x + a.y * b.y, a.y * b.x - a.x * b.y);
    }
    return acc;
}`, kept, margin, 1<<margin),
			Eval: func(e *Env, k uint32) f32.Vec4 {
				keptMask, marginMask := e.U(0), e.U(1)
				pinned := e.U(3) & e.U(2)
				row := pinned | control.Deposit(k>>kept, keptMask)
				col := pinned | control.Deposit(k&(1<<kept-1), keptMask)
				var re, im float32
				for m := uint32(0); m < 1<<margin; m++ {
					spread := control.Deposit(m, marginMask)
					a, b := e.Read(0, row|spread), e.Read(0, col|spread)
					re += a[0]*b[0] + a[1]*b[1]
					im += a[1]*b[0] - a[0]*b[1]
				}
				return f32.Vec4{re, im}
			},
		}
	}
}

// SuperpositionToDensityMatrix writes into dst the density matrix of the
// kept qubits, tracing out the margin qubits, restricted to the states
// where the mask's control qubits have their desired values:
//
//	ρ[r][c] = Σ_m a(r, m) · conj(a(c, m))
//
// Cell r·2^k + c of dst holds (Re ρ[r][c], Im ρ[r][c]). kept, margin and
// the mask's inclusion must partition the state's qubits, and dst must be
// a vec2 buffer of exactly 4^k cells with width 2^k.
func (l *Library) SuperpositionToDensityMatrix(dst, state *texture.Texture, kept, margin uint32, m control.Mask) error {
	qubits, err := stateQubits(state)
	if err != nil {
		return err
	}
	if err := checkQubits(qubits); err != nil {
		return err
	}
	if err := checkMask(m, qubits); err != nil {
		return err
	}
	all := uint32(1)<<qubits - 1
	if kept&margin != 0 || kept&m.Inclusion != 0 || margin&m.Inclusion != 0 {
		return fmt.Errorf("%w: kept %#b, margin %#b and controls %#b overlap", ErrConfiguration, kept, margin, m.Inclusion)
	}
	if kept|margin|m.Inclusion != all {
		return fmt.Errorf("%w: kept %#b, margin %#b and controls %#b do not cover %d qubits",
			ErrConfiguration, kept, margin, m.Inclusion, qubits)
	}
	if err := dst.Check(); err != nil {
		return err
	}
	k := bits.OnesCount32(kept)
	if dst.Size() != 1<<(2*k) || dst.Width() != 1<<k {
		return fmt.Errorf("%w: %v cannot hold a %d-qubit density matrix (%d cells)", ErrConfiguration, dst, k, 1<<(2*k))
	}
	mc := bits.OnesCount32(margin)
	p, err := l.DensityProgram(mc, k)
	if err != nil {
		return err
	}
	return l.runInto(p, dst, []uint32{kept, margin, m.Inclusion, m.Desired}, state)
}

// DensityMatrix allocates a 2^k × 2^k buffer and fills it with
// SuperpositionToDensityMatrix.
func (l *Library) DensityMatrix(state *texture.Texture, kept, margin uint32, m control.Mask) (*texture.Texture, error) {
	k := bits.OnesCount32(kept)
	dst, err := l.pool.Take(1<<k, 1<<k, codec.Vec2, l.codec)
	if err != nil {
		return nil, err
	}
	dst.SetLabel("density_matrix")
	if err := l.SuperpositionToDensityMatrix(dst, state, kept, margin, m); err != nil {
		_ = dst.Release()
		return nil, err
	}
	return dst, nil
}
