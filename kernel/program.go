package kernel

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/texture"
)

// ParamType is the WGSL type of a kernel parameter.
type ParamType uint8

const (
	// U32 parameters are unsigned 32-bit integers.
	U32 ParamType = iota

	// F32 parameters are 32-bit floats, carried as their bit pattern.
	F32
)

func (t ParamType) wgsl() string {
	if t == F32 {
		return "f32"
	}
	return "u32"
}

// Param declares a scalar kernel parameter. It appears in WGSL as
// params.p_<Name>.
type Param struct {
	Name string
	Type ParamType
}

// Input declares an input buffer. It is read in WGSL with read_<Name>(k).
type Input struct {
	Name  string
	Arity codec.Arity
}

// Program is a kernel: a per-cell function of its inputs and parameters.
//
// Body is WGSL defining fn outputFor(k: u32) returning the output arity's
// type. Eval is the same function evaluated on the host; it must agree
// with Body for every k.
type Program struct {
	Name   string
	Inputs []Input
	Output codec.Arity
	Params []Param
	Body   string
	Eval   func(e *Env, k uint32) f32.Vec4

	source string
}

// Source returns the complete WGSL module.
func (p *Program) Source() string { return p.source }

// headerFields precede the kernel parameters in the uniform block.
var headerFields = []string{"out_width", "out_height", "phys_width", "phys_len"}

// uniformWords is the number of u32 words in the uniform block, padded to
// a multiple of four.
func (p *Program) uniformWords() int {
	n := len(headerFields) + len(p.Params) + len(p.Inputs)
	return (n + 3) &^ 3
}

// build assembles the WGSL module for codec c.
func (p *Program) build(c codec.Codec) {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s\n\nstruct Params {\n", p.Name)
	for _, f := range headerFields {
		fmt.Fprintf(&b, "    %s: u32,\n", f)
	}
	for _, prm := range p.Params {
		fmt.Fprintf(&b, "    p_%s: %s,\n", prm.Name, prm.Type.wgsl())
	}
	for _, in := range p.Inputs {
		fmt.Fprintf(&b, "    len_%s: u32,\n", in.Name)
	}
	used := len(headerFields) + len(p.Params) + len(p.Inputs)
	for i := used; i < p.uniformWords(); i++ {
		fmt.Fprintf(&b, "    pad%d: u32,\n", i-used)
	}
	b.WriteString("}\n\n@group(0) @binding(0) var<uniform> params: Params;\n\n")

	if pre := c.Prelude(); pre != "" {
		b.WriteString(pre)
		b.WriteString("\n")
	}
	for i, in := range p.Inputs {
		b.WriteString(c.InputSource(in.Name, in.Arity, i+1))
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(p.Body))
	b.WriteString("\n\n")
	b.WriteString(c.OutputSource(p.Output, len(p.Inputs)+1))
	p.source = b.String()
}

// Invocation binds a program to concrete buffers and parameter values.
type Invocation struct {
	Program *Program
	Inputs  []*texture.Texture
	Output  *texture.Texture
	// Values holds one word per Program.Params entry. F32 values are
	// stored as their IEEE bit pattern.
	Values []uint32
}

// Validate checks buffer count, arity, liveness and pixel format.
func (inv *Invocation) Validate(c codec.Codec) error {
	p := inv.Program
	if len(inv.Inputs) != len(p.Inputs) {
		return fmt.Errorf("%w: %s takes %d inputs, got %d", ErrConfiguration, p.Name, len(p.Inputs), len(inv.Inputs))
	}
	if len(inv.Values) != len(p.Params) {
		return fmt.Errorf("%w: %s takes %d parameters, got %d", ErrConfiguration, p.Name, len(p.Params), len(inv.Values))
	}
	check := func(role string, t *texture.Texture, a codec.Arity) error {
		if err := t.Check(); err != nil {
			return fmt.Errorf("%s %s: %w", p.Name, role, err)
		}
		if err := codec.CheckFormat(c, t.Format()); err != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrConfiguration, p.Name, role, err)
		}
		if t.Arity() != a {
			return fmt.Errorf("%w: %s %s is %v, want %v", ErrConfiguration, p.Name, role, t.Arity(), a)
		}
		return nil
	}
	for i, in := range p.Inputs {
		if err := check(in.Name, inv.Inputs[i], in.Arity); err != nil {
			return err
		}
	}
	return check("output", inv.Output, p.Output)
}

// Uniforms serializes the uniform block: output geometry, parameter
// values, then input lengths, little-endian.
func (inv *Invocation) Uniforms() []byte {
	out := inv.Output
	words := make([]uint32, 0, inv.Program.uniformWords())
	words = append(words,
		uint32(out.Width()), uint32(out.Height()),
		uint32(out.PhysWidth()), uint32(out.PhysLen()))
	words = append(words, inv.Values...)
	for _, in := range inv.Inputs {
		words = append(words, uint32(in.Size()))
	}
	buf := make([]byte, inv.Program.uniformWords()*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// Env is the host view of an invocation passed to Program.Eval.
type Env struct {
	inputs  [][]float32
	arities []int
	sizes   []uint32
	values  []uint32
	width   uint32
	height  uint32
}

// Read returns the value of input i at index k, zero when out of range.
// Channels beyond the input's arity are zero.
func (e *Env) Read(i int, k uint32) f32.Vec4 {
	var v f32.Vec4
	if k >= e.sizes[i] {
		return v
	}
	a := e.arities[i]
	copy(v[:a], e.inputs[i][int(k)*a:int(k)*a+a])
	return v
}

// Len returns the cell count of input i.
func (e *Env) Len(i int) uint32 { return e.sizes[i] }

// U returns parameter i as an unsigned integer.
func (e *Env) U(i int) uint32 { return e.values[i] }

// F returns parameter i as a float.
func (e *Env) F(i int) float32 { return math32.Float32frombits(e.values[i]) }

// Width returns the logical output width.
func (e *Env) Width() uint32 { return e.width }

// Height returns the logical output height.
func (e *Env) Height() uint32 { return e.height }

// Bits converts a float parameter value to its word.
func Bits(f float32) uint32 { return math32.Float32bits(f) }
