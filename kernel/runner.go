package kernel

import (
	"fmt"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/internal/parallel"
	"github.com/gogpu/qsim/texture"
)

// Runner executes invocations. Implementations own whatever device state
// the buffers need and keep the texture residency flags accurate.
type Runner interface {
	// Name returns the runner name (e.g., "cpu", "vulkan").
	Name() string

	// Run evaluates inv.Program for every cell of inv.Output.
	Run(inv *Invocation) error

	// Sync makes the host pixels of t current.
	Sync(t *texture.Texture) error

	// Close releases runner resources.
	Close()
}

// CPURunner evaluates programs on the host with their Eval function,
// spreading cells over a worker pool.
type CPURunner struct {
	codec codec.Codec
	pool  *parallel.WorkerPool
}

var _ Runner = (*CPURunner)(nil)

// NewCPURunner creates a host runner for codec c. If workers is 0 or
// negative, GOMAXPROCS workers are used.
func NewCPURunner(c codec.Codec, workers int) *CPURunner {
	return &CPURunner{codec: c, pool: parallel.NewWorkerPool(workers)}
}

// Name returns "cpu".
func (r *CPURunner) Name() string { return "cpu" }

// Run decodes the inputs, evaluates every output cell and encodes the result.
func (r *CPURunner) Run(inv *Invocation) error {
	if err := inv.Validate(r.codec); err != nil {
		return err
	}
	p := inv.Program
	env := &Env{
		inputs:  make([][]float32, len(inv.Inputs)),
		arities: make([]int, len(inv.Inputs)),
		sizes:   make([]uint32, len(inv.Inputs)),
		values:  inv.Values,
		width:   uint32(inv.Output.Width()),
		height:  uint32(inv.Output.Height()),
	}
	for i, in := range inv.Inputs {
		if !in.Residency().Has(texture.ResidentHost) {
			return fmt.Errorf("kernel: %s input %s is not resident on the host", p.Name, in)
		}
		px, err := in.Pixels()
		if err != nil {
			return err
		}
		vals, err := r.codec.Unpack(px, in.Arity())
		if err != nil {
			return err
		}
		env.inputs[i] = vals
		env.arities[i] = int(in.Arity())
		env.sizes[i] = uint32(in.Size())
	}

	a := int(p.Output)
	out := make([]float32, inv.Output.Size()*a)
	r.pool.For(inv.Output.Size(), func(lo, hi int) {
		for k := lo; k < hi; k++ {
			v := p.Eval(env, uint32(k))
			copy(out[k*a:k*a+a], v[:a])
		}
	})

	px, err := r.codec.Pack(out, p.Output)
	if err != nil {
		return err
	}
	return inv.Output.SetPixels(px)
}

// Sync is a no-op: host pixels are always current.
func (r *CPURunner) Sync(t *texture.Texture) error {
	return t.Check()
}

// Close stops the worker pool.
func (r *CPURunner) Close() {
	r.pool.Close()
}
