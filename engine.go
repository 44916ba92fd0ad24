package qsim

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

// Engine holds one n-qubit state vector and evolves it through kernels.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	qubits  int
	backend BackendMode
	codec   codec.Codec
	pool    *texture.Pool
	lib     *kernel.Library
	cpu     *kernel.CPURunner // nil on an explicit GPU backend
	gpu     *fallbackRunner   // BackendAuto resolved to the GPU
	state   *texture.Texture
	closed  bool
}

// New creates an engine for qubits qubits initialized to |0…0⟩.
func New(qubits int, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if qubits < 1 {
		return nil, fmt.Errorf("%w: %d qubits", ErrInvalidOption, qubits)
	}
	if qubits > control.MaxBits {
		return nil, fmt.Errorf("%w: %d qubits, max %d", control.ErrCapacity, qubits, control.MaxBits)
	}
	if o.workers < 0 || o.cacheSize < 0 {
		return nil, fmt.Errorf("%w: workers %d, cache size %d", ErrInvalidOption, o.workers, o.cacheSize)
	}

	a := Accelerator()
	mode, err := selectBackend(o.backend, a != nil)
	if err != nil {
		return nil, err
	}
	if mode == BackendGPU && o.provider != nil {
		if err := SetAcceleratorDeviceProvider(o.provider); err != nil {
			if o.backend == BackendGPU {
				return nil, err
			}
			Logger().Warn("qsim: device provider rejected, using CPU", "err", err)
			mode = BackendCPU
		}
	}

	tag := codec.TagFloat
	if o.codecSet {
		tag = o.codec
	} else if mode == BackendGPU && !a.FloatStorage() {
		tag = codec.TagByte
	}
	c, err := codec.New(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	e := &Engine{qubits: qubits, backend: mode, codec: c, pool: texture.NewPool()}
	var runner kernel.Runner
	if mode == BackendGPU {
		runner = a
		e.pool.SetDropFunc(a.Drop)
		if o.backend == BackendAuto {
			e.cpu = kernel.NewCPURunner(c, o.workers)
			e.gpu = &fallbackRunner{gpu: a, cpu: e.cpu}
			runner = e.gpu
		}
	} else {
		e.cpu = kernel.NewCPURunner(c, o.workers)
		runner = e.cpu
	}
	e.lib, err = kernel.NewLibrary(kernel.Config{
		Codec:            c,
		Pool:             e.pool,
		Runner:           runner,
		Logger:           Logger(),
		DensityCacheSize: o.cacheSize,
	})
	if err != nil {
		e.closeRunner()
		return nil, err
	}
	if err := e.ClassicalState(0); err != nil {
		e.Close()
		return nil, err
	}
	Logger().Info("qsim: engine created", "qubits", qubits, "backend", mode, "codec", tag, "runner", runner.Name())
	return e, nil
}

// Qubits returns the number of qubits.
func (e *Engine) Qubits() int { return e.qubits }

// Backend returns the resolved backend.
func (e *Engine) Backend() BackendMode { return e.backend }

// Codec returns the codec used for every buffer.
func (e *Engine) Codec() codec.Codec { return e.codec }

// Library returns the kernel library for direct buffer-level work.
func (e *Engine) Library() *kernel.Library { return e.lib }

// State returns the current state buffer. It stays valid until the next
// operation replaces it.
func (e *Engine) State() *texture.Texture { return e.state }

// CPUFallbacks returns how many invocations the accelerator rejected and
// the engine ran on the CPU instead. Always zero unless the backend was
// resolved from BackendAuto.
func (e *Engine) CPUFallbacks() int {
	if e.gpu == nil {
		return 0
	}
	return e.gpu.fallbacks
}

// PoolStats returns buffer pool statistics.
func (e *Engine) PoolStats() texture.PoolStats { return e.pool.Stats() }

// Close releases every buffer and the CPU runner. The engine is unusable
// afterwards; Close is idempotent.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.state != nil {
		if err := e.state.Release(); err != nil {
			Logger().Warn("qsim: release state", "err", err)
		}
		e.state = nil
	}
	e.lib.Close()
	e.pool.Drain()
	e.closeRunner()
}

func (e *Engine) closeRunner() {
	if e.cpu != nil {
		e.cpu.Close()
	}
}

func (e *Engine) check() error {
	if e.closed {
		return ErrClosed
	}
	return nil
}

// replace installs next as the state, releasing the previous one.
func (e *Engine) replace(next *texture.Texture, err error) error {
	if err != nil {
		return err
	}
	if e.state != nil {
		if rerr := e.state.Release(); rerr != nil {
			Logger().Warn("qsim: release state", "err", rerr)
		}
	}
	next.SetLabel("state")
	e.state = next
	return nil
}

// ClassicalState resets the state to the basis state index.
func (e *Engine) ClassicalState(index uint32) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.replace(e.lib.ClassicalState(e.qubits, index))
}

// SetAmplitudes replaces the state with amps, one per basis state. The
// amplitudes are used as given; callers normalize.
func (e *Engine) SetAmplitudes(amps []complex64) error {
	if err := e.check(); err != nil {
		return err
	}
	if len(amps) != 1<<e.qubits {
		return fmt.Errorf("%w: %d amplitudes for %d qubits", kernel.ErrConfiguration, len(amps), e.qubits)
	}
	vals := make([]float32, 2*len(amps))
	for i, a := range amps {
		vals[2*i], vals[2*i+1] = real(a), imag(a)
	}
	return e.replace(e.lib.Upload(e.qubits, codec.Vec2, vals))
}

// ApplyQubitOperation applies m to qubit where controls allows.
func (e *Engine) ApplyQubitOperation(m Matrix, qubit int, controls control.Mask) error {
	if err := e.check(); err != nil {
		return err
	}
	if controls.Inclusion&bit(qubit) != 0 {
		return fmt.Errorf("%w: qubit %d is its own control", kernel.ErrConfiguration, qubit)
	}
	return e.replace(e.lib.ApplyControlled(e.state, m, qubit, controls))
}

// ApplySwap exchanges qubits a and b where controls allows.
func (e *Engine) ApplySwap(a, b int, controls control.Mask) error {
	if err := e.check(); err != nil {
		return err
	}
	if controls.Inclusion&(bit(a)|bit(b)) != 0 {
		return fmt.Errorf("%w: swapped qubits %d and %d cannot be controls", kernel.ErrConfiguration, a, b)
	}
	return e.replace(e.lib.SwapControlled(e.state, a, b, controls))
}

// bit returns the mask of qubit q, zero when q is not a valid bit position.
func bit(q int) uint32 {
	if q < 0 || q >= 32 {
		return 0
	}
	return 1 << q
}

// Apply runs one operation.
func (e *Engine) Apply(op Operation) error {
	switch op.Kind {
	case OpUnitary:
		return e.ApplyQubitOperation(op.Matrix, op.Qubit, op.Controls)
	case OpSwap:
		return e.ApplySwap(op.Qubit, op.Other, op.Controls)
	default:
		return fmt.Errorf("%w: operation kind %d", kernel.ErrConfiguration, int(op.Kind))
	}
}

// Run applies ops in order, stopping at the first failure.
func (e *Engine) Run(ops ...Operation) error {
	for i, op := range ops {
		if err := e.Apply(op); err != nil {
			return fmt.Errorf("qsim: operation %d (%v): %w", i, op, err)
		}
	}
	return nil
}

// readAndRelease reads t and releases it.
func (e *Engine) readAndRelease(t *texture.Texture, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Release() }()
	return e.lib.Read(t)
}

// Amplitudes reads the state vector back.
func (e *Engine) Amplitudes() ([]complex64, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	vals, err := e.lib.Read(e.state)
	if err != nil {
		return nil, err
	}
	out := make([]complex64, len(vals)/2)
	for i := range out {
		out[i] = complex(vals[2*i], vals[2*i+1])
	}
	return out, nil
}

// Probabilities returns the probability of every basis state.
func (e *Engine) Probabilities() ([]float32, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.readAndRelease(e.lib.Probabilities(e.state))
}

// ConditionalProbabilities returns, for every qubit, the probability mass
// of the state with and without the qubit set, both overall and among the
// basis states mask allows.
func (e *Engine) ConditionalProbabilities(mask control.Mask) ([]Conditional, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	red, err := e.conditionalRecords(mask)
	vals, err := e.readAndRelease(red, err)
	if err != nil {
		return nil, err
	}
	return kernel.Finalize(vals, e.qubits)
}

func (e *Engine) conditionalRecords(mask control.Mask) (*texture.Texture, error) {
	probs, err := e.lib.Probabilities(e.state)
	if err != nil {
		return nil, err
	}
	defer func() { _ = probs.Release() }()
	return e.lib.ConditionalProbabilities(probs, mask)
}

// QubitDensities returns every qubit's reduced density matrix.
func (e *Engine) QubitDensities() ([]Density2, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	vals, err := e.readAndRelease(e.lib.QubitDensities(e.state))
	if err != nil {
		return nil, err
	}
	return kernel.DecodeQubitDensities(vals, e.qubits)
}

// DensityMatrix returns the reduced density matrix of kept, tracing out
// every qubit that is neither kept nor a control of mask. The trace of the
// result is the probability that mask is satisfied.
func (e *Engine) DensityMatrix(kept []int, mask control.Mask) (*DensityMatrix, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var keptBits uint32
	for _, q := range kept {
		if q < 0 || q >= e.qubits {
			return nil, fmt.Errorf("%w: kept qubit %d out of range for %d qubits", kernel.ErrConfiguration, q, e.qubits)
		}
		if keptBits&(1<<q) != 0 {
			return nil, fmt.Errorf("%w: kept qubit %d listed twice", kernel.ErrConfiguration, q)
		}
		keptBits |= 1 << q
	}
	all := uint32(1)<<e.qubits - 1
	margin := all &^ keptBits &^ mask.Inclusion
	vals, err := e.readAndRelease(e.lib.DensityMatrix(e.state, keptBits, margin, mask))
	if err != nil {
		return nil, err
	}

	// Kernel rows enumerate kept qubits in ascending order.
	sorted := slices.Sorted(slices.Values(kept))
	dm := &DensityMatrix{Qubits: sorted, Dim: 1 << len(kept), Data: vals}
	if !slices.Equal(sorted, kept) {
		return permute(dm, kept), nil
	}
	return dm, nil
}

// permute reorders dm so that bit b of its indices is qubit order[b].
func permute(dm *DensityMatrix, order []int) *DensityMatrix {
	pos := make(map[int]int, len(dm.Qubits))
	for b, q := range dm.Qubits {
		pos[q] = b
	}
	remap := func(i int) int {
		j := 0
		for b, q := range order {
			j |= (i >> b & 1) << pos[q]
		}
		return j
	}
	out := &DensityMatrix{Qubits: slices.Clone(order), Dim: dm.Dim, Data: make([]float32, len(dm.Data))}
	for r := 0; r < dm.Dim; r++ {
		for c := 0; c < dm.Dim; c++ {
			src := 2 * (remap(r)*dm.Dim + remap(c))
			dst := 2 * (r*dm.Dim + c)
			out.Data[dst], out.Data[dst+1] = dm.Data[src], dm.Data[src+1]
		}
	}
	return out
}

// ReadBatch computes every qubit's density and the conditional
// probabilities for each mask, merges them into one buffer and reads it
// back with a single transfer.
func (e *Engine) ReadBatch(masks ...control.Mask) (*Batch, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	parts := make([]*texture.Texture, 0, 1+len(masks))
	defer func() {
		for _, p := range parts {
			_ = p.Release()
		}
	}()

	dens, err := e.lib.QubitDensities(e.state)
	if err != nil {
		return nil, err
	}
	parts = append(parts, dens)
	for _, m := range masks {
		red, err := e.conditionalRecords(m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, red)
	}

	stride := texture.CeilPow2(e.qubits)
	merged, err := e.lib.Pool().TakeBits(bits.Len(uint(len(parts)*stride-1)), codec.Vec4, e.codec)
	if err != nil {
		return nil, err
	}
	for i, p := range parts {
		next, err := e.lib.LinearOverlay(i*stride, p, merged)
		_ = merged.Release()
		if err != nil {
			return nil, err
		}
		merged = next
	}
	vals, err := e.readAndRelease(merged, nil)
	if err != nil {
		return nil, err
	}

	b := &Batch{}
	if b.Densities, err = kernel.DecodeQubitDensities(vals, e.qubits); err != nil {
		return nil, err
	}
	for i := range masks {
		off := (i + 1) * stride * int(codec.Vec4)
		c, err := kernel.Finalize(vals[off:], e.qubits)
		if err != nil {
			return nil, err
		}
		b.Conditionals = append(b.Conditionals, c)
	}
	return b, nil
}

// IsClosed reports whether err came from a closed engine.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }
