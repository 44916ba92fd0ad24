package kernel

import (
	"fmt"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/texture"
)

func probabilitiesProgram() Program {
	return Program{
		Name:   "amplitudes_to_probabilities",
		Inputs: []Input{{"amps", codec.Vec2}},
		Output: codec.Scalar,
		Body: `
fn outputFor(k: u32) -> f32 {
    let a = read_amps(k);
    return a.x * a.x + a.y * a.y;
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			a := e.Read(0, k)
			return f32.Vec4{a[0]*a[0] + a[1]*a[1]}
		},
	}
}

// Probabilities returns |a|² for every amplitude of state.
func (l *Library) Probabilities(state *texture.Texture) (*texture.Texture, error) {
	if _, err := stateQubits(state); err != nil {
		return nil, err
	}
	p, err := l.program("amplitudes_to_probabilities", probabilitiesProgram)
	if err != nil {
		return nil, err
	}
	return l.run(p, state.Width(), state.Height(), nil, state)
}

// Conditional-probability records are vec4 cells laid out as
// q << restBits | rest, where rest enumerates the qubits other than q that
// have not been summed out yet. The channels are
// (total, one, controlled, controlledOne): the mass of all states, of states
// with qubit q set, and the same two restricted to states the mask allows.

func conditionalSeedProgram() Program {
	return Program{
		Name:   "conditional_seed",
		Inputs: []Input{{"probs", codec.Scalar}},
		Output: codec.Vec4,
		Params: []Param{{"qubits", U32}, {"rest_bits", U32}, {"inclusion", U32}, {"desired", U32}},
		Body: `
fn outputFor(k: u32) -> vec4<f32> {
    let q = k >> params.p_rest_bits;
    if (q >= params.p_qubits) {
        return vec4<f32>(0.0);
    }
    let rest = k & ((1u << params.p_rest_bits) - 1u);
    let low = rest & ((1u << q) - 1u);
    let i0 = ((rest ^ low) << 1u) | low;
    let p0 = read_probs(i0);
    let p1 = read_probs(i0 | (1u << q));
    if (((params.p_inclusion >> q) & 1u) == 0u) {
        return vec4<f32>(p0 + p1, p1, p0 + p1, p1);
    }
    if (((params.p_desired >> q) & 1u) == 1u) {
        return vec4<f32>(p0 + p1, p1, p1, p1);
    }
    return vec4<f32>(p0 + p1, p1, p0, 0.0);
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			restBits := e.U(1)
			q := k >> restBits
			if q >= e.U(0) {
				return f32.Vec4{}
			}
			rest := k & (1<<restBits - 1)
			low := rest & (1<<q - 1)
			i0 := (rest^low)<<1 | low
			p0 := e.Read(0, i0)[0]
			p1 := e.Read(0, i0|1<<q)[0]
			switch {
			case (e.U(2)>>q)&1 == 0:
				return f32.Vec4{p0 + p1, p1, p0 + p1, p1}
			case (e.U(3)>>q)&1 == 1:
				return f32.Vec4{p0 + p1, p1, p1, p1}
			default:
				return f32.Vec4{p0 + p1, p1, p0, 0}
			}
		},
	}
}

// ConditionalSeed builds the per-qubit records for an n-qubit probability
// buffer. Qubit q's own bit is resolved here; the remaining n-1 bits are
// summed out by ReduceStep. Records for q in [n, ceilPow2(n)) are zero.
func (l *Library) ConditionalSeed(probs *texture.Texture, m control.Mask) (*texture.Texture, error) {
	qubits, err := probabilityQubits(probs, m)
	if err != nil {
		return nil, err
	}
	p, err := l.program("conditional_seed", conditionalSeedProgram)
	if err != nil {
		return nil, err
	}
	stride := texture.CeilPow2(qubits)
	restBits := qubits - 1
	return l.runBits(p, log2(stride)+restBits,
		[]uint32{uint32(qubits), uint32(restBits), m.Inclusion, m.Desired}, probs)
}

func reduceStepProgram() Program {
	return Program{
		Name:   "conditional_reduce_step",
		Inputs: []Input{{"records", codec.Vec4}},
		Output: codec.Vec4,
		Params: []Param{{"step", U32}, {"rest_bits", U32}, {"inclusion", U32}, {"desired", U32}},
		Body: `
fn outputFor(k: u32) -> vec4<f32> {
    let half_bits = params.p_rest_bits - 1u;
    let q = k >> half_bits;
    let j = k & ((1u << half_bits) - 1u);
    let src = (q << params.p_rest_bits) | (j << 1u);
    let r0 = read_records(src);
    let r1 = read_records(src | 1u);
    var orig = params.p_step;
    if (orig >= q) {
        orig = orig + 1u;
    }
    let sum = r0 + r1;
    if (((params.p_inclusion >> orig) & 1u) == 0u) {
        return sum;
    }
    var pick = r0;
    if (((params.p_desired >> orig) & 1u) == 1u) {
        pick = r1;
    }
    return vec4<f32>(sum.x, sum.y, pick.z, pick.w);
}`,
		Eval: func(e *Env, k uint32) f32.Vec4 {
			restBits := e.U(1)
			half := restBits - 1
			q := k >> half
			j := k & (1<<half - 1)
			src := q<<restBits | j<<1
			r0, r1 := e.Read(0, src), e.Read(0, src|1)
			orig := e.U(0)
			if orig >= q {
				orig++
			}
			sum := f32.Vec4{r0[0] + r1[0], r0[1] + r1[1], r0[2] + r1[2], r0[3] + r1[3]}
			if (e.U(2)>>orig)&1 == 0 {
				return sum
			}
			pick := r0
			if (e.U(3)>>orig)&1 == 1 {
				pick = r1
			}
			return f32.Vec4{sum[0], sum[1], pick[2], pick[3]}
		},
	}
}

// ReduceStep sums out the lowest remaining rest bit of records that still
// carry restBits rest bits. step is that bit's position among the qubits
// other than q, so it names qubit step for q > step and qubit step+1
// otherwise. The total and one channels add both branches. The controlled
// channels add both branches when the qubit is free and keep only the
// desired branch when it is a control.
func (l *Library) ReduceStep(records *texture.Texture, step, restBits int, m control.Mask) (*texture.Texture, error) {
	if err := records.Check(); err != nil {
		return nil, err
	}
	if restBits < 1 || step < 0 {
		return nil, fmt.Errorf("%w: reduce step %d with %d rest bits", ErrConfiguration, step, restBits)
	}
	if records.Bits() < restBits {
		return nil, fmt.Errorf("%w: %v has fewer than %d rest bits", ErrConfiguration, records, restBits)
	}
	p, err := l.program("conditional_reduce_step", reduceStepProgram)
	if err != nil {
		return nil, err
	}
	return l.runBits(p, records.Bits()-1,
		[]uint32{uint32(step), uint32(restBits), m.Inclusion, m.Desired}, records)
}

// ConditionalProbabilities reduces an n-qubit probability buffer to one
// record per qubit, summing out the other qubits in ascending order. Cell q
// of the result (q < n) holds qubit q's record; decode it with Finalize.
func (l *Library) ConditionalProbabilities(probs *texture.Texture, m control.Mask) (*texture.Texture, error) {
	qubits, err := probabilityQubits(probs, m)
	if err != nil {
		return nil, err
	}
	cur, err := l.ConditionalSeed(probs, m)
	if err != nil {
		return nil, err
	}
	for step := 0; step < qubits-1; step++ {
		next, err := l.ReduceStep(cur, step, qubits-1-step, m)
		_ = cur.Release()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func probabilityQubits(probs *texture.Texture, m control.Mask) (int, error) {
	if err := probs.Check(); err != nil {
		return 0, err
	}
	if probs.Arity() != codec.Scalar {
		return 0, fmt.Errorf("%w: probability buffer is %v, want scalar", ErrConfiguration, probs.Arity())
	}
	qubits := probs.Bits()
	if err := checkQubits(qubits); err != nil {
		return 0, err
	}
	if err := checkMask(m, qubits); err != nil {
		return 0, err
	}
	return qubits, nil
}

// Conditional summarizes one qubit of a conditional-probability reduction.
type Conditional struct {
	Qubit int

	// Total is the probability mass of the whole state.
	Total float32

	// One is the mass of states with the qubit set.
	One float32

	// Controlled is the mass of states the mask allows.
	Controlled float32

	// ControlledOne is the mass of allowed states with the qubit set.
	ControlledOne float32
}

// Marginal returns the probability that the qubit reads 1, ignoring controls.
func (c Conditional) Marginal() float32 {
	if c.Total == 0 {
		return 0
	}
	return c.One / c.Total
}

// Value returns the probability that the qubit reads 1 given that the
// controls are satisfied. ok is false when no allowed state has mass.
func (c Conditional) Value() (p float32, ok bool) {
	if c.Controlled == 0 {
		return 0, false
	}
	return c.ControlledOne / c.Controlled, true
}

// Finalize decodes the values of a ConditionalProbabilities result into one
// Conditional per qubit.
func Finalize(records []float32, qubits int) ([]Conditional, error) {
	if len(records) < qubits*4 {
		return nil, fmt.Errorf("%w: %d values for %d qubit records", ErrConfiguration, len(records), qubits)
	}
	out := make([]Conditional, qubits)
	for q := range out {
		r := records[q*4 : q*4+4]
		out[q] = Conditional{Qubit: q, Total: r[0], One: r[1], Controlled: r[2], ControlledOne: r[3]}
	}
	return out, nil
}
