// Package kernel implements the data-parallel programs that build and
// evolve state buffers, and the Library that dispatches them.
//
// Every program is written once as WGSL for GPU runners and once as a host
// function for the CPU runner. Programs never mutate their inputs: each
// call draws a fresh output buffer from the pool and the caller owns it.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/internal/cache"
	"github.com/gogpu/qsim/texture"
)

// ErrConfiguration is returned for invalid kernel arguments: mismatched
// formats or arities, out-of-range offsets and indices, non-partitioning
// qubit sets, wrong destination sizes.
var ErrConfiguration = errors.New("kernel: invalid configuration")

// DefaultDensityCacheSize bounds the number of specialized density-matrix
// programs kept by a Library.
const DefaultDensityCacheSize = 64

// Config configures a Library.
type Config struct {
	// Codec encodes every buffer the library touches. Required.
	Codec codec.Codec

	// Pool issues output buffers. A new pool is created if nil.
	Pool *texture.Pool

	// Runner executes invocations. A CPURunner is created if nil.
	Runner Runner

	// Logger receives dispatch diagnostics. Silent if nil.
	Logger *slog.Logger

	// DensityCacheSize bounds the specialized program cache.
	// Defaults to DefaultDensityCacheSize if <= 0.
	DensityCacheSize int
}

// densityKey identifies a specialized density-matrix program.
type densityKey struct {
	margin int
	kept   int
}

// Library builds programs for one codec and runs them on one runner.
//
// A Library is not safe for concurrent use; callers issue invocations from
// a single goroutine.
type Library struct {
	codec    codec.Codec
	pool     *texture.Pool
	runner   Runner
	ownsRun  bool
	logger   *slog.Logger
	programs *cache.Cache[string, *Program]
	density  *cache.Cache[densityKey, *Program]
}

// NewLibrary creates a library from cfg.
func NewLibrary(cfg Config) (*Library, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("%w: codec is required", ErrConfiguration)
	}
	l := &Library{
		codec:    cfg.Codec,
		pool:     cfg.Pool,
		runner:   cfg.Runner,
		logger:   cfg.Logger,
		programs: cache.New[string, *Program](0, nil),
	}
	if l.pool == nil {
		l.pool = texture.NewPool()
	}
	if l.runner == nil {
		l.runner = NewCPURunner(cfg.Codec, 0)
		l.ownsRun = true
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.DensityCacheSize
	if size <= 0 {
		size = DefaultDensityCacheSize
	}
	l.density = cache.New[densityKey, *Program](size, func(k densityKey, _ *Program) {
		l.logger.Debug("kernel: evicted density program", "margin", k.margin, "kept", k.kept)
	})
	return l, nil
}

// Codec returns the library codec.
func (l *Library) Codec() codec.Codec { return l.codec }

// Pool returns the buffer pool.
func (l *Library) Pool() *texture.Pool { return l.pool }

// Runner returns the runner executing invocations.
func (l *Library) Runner() Runner { return l.runner }

// Close releases the runner if the library created it.
func (l *Library) Close() {
	l.programs.Clear()
	l.density.Clear()
	if l.ownsRun {
		l.runner.Close()
	}
}

// Upload allocates a buffer of 2^bits cells and fills it with values.
func (l *Library) Upload(bits int, a codec.Arity, values []float32) (*texture.Texture, error) {
	t, err := l.pool.TakeBits(bits, a, l.codec)
	if err != nil {
		return nil, err
	}
	if len(values) != t.Size()*int(a) {
		_ = t.Release()
		return nil, fmt.Errorf("%w: %d values for %d cells of %v", ErrConfiguration, len(values), t.Size(), a)
	}
	px, err := l.codec.Pack(values, a)
	if err == nil {
		err = t.SetPixels(px)
	}
	if err != nil {
		_ = t.Release()
		return nil, err
	}
	return t, nil
}

// Read syncs t to the host and decodes its values.
func (l *Library) Read(t *texture.Texture) ([]float32, error) {
	if err := l.runner.Sync(t); err != nil {
		return nil, err
	}
	px, err := t.Pixels()
	if err != nil {
		return nil, err
	}
	return l.codec.Unpack(px, t.Arity())
}

// program returns the cached program name, building it on first use.
func (l *Library) program(name string, build func() Program) (*Program, error) {
	return l.programs.GetOrCreate(name, func() (*Program, error) {
		p := build()
		p.build(l.codec)
		l.logger.Debug("kernel: built program", "name", name, "codec", l.codec.Tag())
		return &p, nil
	})
}

// run allocates an output of w×h cells, evaluates p into it and returns
// it. The output is released if the run fails.
func (l *Library) run(p *Program, w, h int, values []uint32, inputs ...*texture.Texture) (*texture.Texture, error) {
	out, err := l.pool.Take(w, h, p.Output, l.codec)
	if err != nil {
		return nil, err
	}
	out.SetLabel(p.Name)
	if err := l.runInto(p, out, values, inputs...); err != nil {
		_ = out.Release()
		return nil, err
	}
	return out, nil
}

func (l *Library) runInto(p *Program, out *texture.Texture, values []uint32, inputs ...*texture.Texture) error {
	inv := &Invocation{Program: p, Inputs: inputs, Output: out, Values: values}
	if err := inv.Validate(l.codec); err != nil {
		return err
	}
	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		l.logger.Debug("kernel: run", "program", p.Name, "runner", l.runner.Name(),
			"width", out.Width(), "height", out.Height())
	}
	return l.runner.Run(inv)
}

// runBits is run with the default grid for 2^bits cells.
func (l *Library) runBits(p *Program, bits int, values []uint32, inputs ...*texture.Texture) (*texture.Texture, error) {
	if bits < 0 || bits > texture.MaxIndexBits {
		return nil, fmt.Errorf("%w: %d index bits, max %d", texture.ErrCapacity, bits, texture.MaxIndexBits)
	}
	w, h := texture.Split(bits)
	return l.run(p, w, h, values, inputs...)
}

// checkQubits validates a state width against mask kernels' capacity.
func checkQubits(qubits int) error {
	if qubits < 1 {
		return fmt.Errorf("%w: state needs at least one qubit, got %d", ErrConfiguration, qubits)
	}
	if qubits > control.MaxBits {
		return fmt.Errorf("%w: %d qubits, max %d", control.ErrCapacity, qubits, control.MaxBits)
	}
	return nil
}

// checkMask validates m for an n-qubit state.
func checkMask(m control.Mask, qubits int) error {
	if err := m.Validate(qubits); err != nil {
		if errors.Is(err, control.ErrCapacity) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// stateQubits returns the qubit count of a state buffer after checking it
// holds amplitudes.
func stateQubits(state *texture.Texture) (int, error) {
	if err := state.Check(); err != nil {
		return 0, err
	}
	if state.Arity() != codec.Vec2 {
		return 0, fmt.Errorf("%w: state buffer is %v, want vec2", ErrConfiguration, state.Arity())
	}
	return state.Bits(), nil
}

func checkQubit(q, qubits int) error {
	if q < 0 || q >= qubits {
		return fmt.Errorf("%w: qubit %d out of range for %d qubits", ErrConfiguration, q, qubits)
	}
	return nil
}

// log2 returns the exponent of a power of two.
func log2(n int) int {
	b := 0
	for 1<<b < n {
		b++
	}
	return b
}

// Precompiler is implemented by runners that can prepare device pipelines
// ahead of the first dispatch.
type Precompiler interface {
	Precompile(p *Program) error
}

// Programs builds and returns every fixed program of the library.
// Specialized density programs are built on demand and not included.
func (l *Library) Programs() ([]*Program, error) {
	builders := map[string]func() Program{
		"fill":                        fillProgram,
		"classical_state":             classicalProgram,
		"control_mask":                controlMaskProgram,
		"qubit_operation":             qubitOperationProgram,
		"swap":                        swapProgram,
		"amplitudes_to_probabilities": probabilitiesProgram,
		"conditional_seed":            conditionalSeedProgram,
		"conditional_reduce_step":     reduceStepProgram,
		"all_qubit_densities":         qubitDensitiesProgram,
	}
	for _, a := range []codec.Arity{codec.Scalar, codec.Vec2, codec.Vec4} {
		builders["linear_overlay_"+a.String()] = overlayProgram(a)
		builders["control_select_"+a.String()] = controlSelectProgram(a)
		builders["power_sum_x_"+a.String()] = powerSumProgram(a, true)
		builders["power_sum_y_"+a.String()] = powerSumProgram(a, false)
	}
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]*Program, 0, len(names))
	for _, name := range names {
		p, err := l.program(name, builders[name])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DensityProgram returns the specialized density-matrix program for the
// given margin and kept qubit counts.
func (l *Library) DensityProgram(margin, kept int) (*Program, error) {
	return l.density.GetOrCreate(densityKey{margin: margin, kept: kept}, func() (*Program, error) {
		p := densityProgram(margin, kept)()
		p.build(l.codec)
		l.logger.Debug("kernel: specialized density program", "margin", margin, "kept", kept)
		return &p, nil
	})
}

// Warm builds every fixed program and lets the runner precompile them.
func (l *Library) Warm() error {
	progs, err := l.Programs()
	if err != nil {
		return err
	}
	pc, ok := l.runner.(Precompiler)
	if !ok {
		return nil
	}
	for _, p := range progs {
		if err := pc.Precompile(p); err != nil {
			return fmt.Errorf("kernel: precompile %s: %w", p.Name, err)
		}
	}
	return nil
}
