//go:build !nogpu

package gpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

// initOrSkip opens a device or skips when the machine has none.
func initOrSkip(t *testing.T) *Accelerator {
	t.Helper()
	a := &Accelerator{}
	if err := a.Init(); err != nil {
		t.Skipf("Skipping: no GPU available: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// circuit runs a small three-qubit circuit and returns its probabilities
// and per-qubit densities.
func circuit(t *testing.T, l *kernel.Library) (probs, dens []float32) {
	t.Helper()
	s := float32(1 / math.Sqrt2)
	h := kernel.Matrix{A: complex(s, 0), B: complex(s, 0), C: complex(s, 0), D: complex(-s, 0)}
	x := kernel.Matrix{B: 1, C: 1}

	state, err := l.ClassicalState(3, 0b100)
	require.NoError(t, err)
	step := func(next *texture.Texture, err error) {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, state.Release())
		state = next
	}
	step(l.QubitOperation(state, h, 0, nil))
	step(l.ApplyControlled(state, x, 1, control.On(0)))
	step(l.SwapControlled(state, 1, 2, control.None))
	defer state.Release()

	p, err := l.Probabilities(state)
	require.NoError(t, err)
	defer p.Release()
	probs, err = l.Read(p)
	require.NoError(t, err)

	d, err := l.QubitDensities(state)
	require.NoError(t, err)
	defer d.Release()
	dens, err = l.Read(d)
	require.NoError(t, err)
	return probs, dens
}

func TestAcceleratorMatchesCPU(t *testing.T) {
	a := initOrSkip(t)

	tags := []codec.Tag{codec.TagByte}
	if a.FloatStorage() {
		tags = append(tags, codec.TagFloat)
	}
	for _, tag := range tags {
		t.Run(tag.String(), func(t *testing.T) {
			c, err := codec.New(tag)
			require.NoError(t, err)

			cpu, err := kernel.NewLibrary(kernel.Config{Codec: c})
			require.NoError(t, err)
			defer cpu.Close()

			pool := texture.NewPool()
			pool.SetDropFunc(a.Drop)
			defer pool.Drain()
			gpu, err := kernel.NewLibrary(kernel.Config{Codec: c, Runner: a, Pool: pool})
			require.NoError(t, err)
			defer gpu.Close()

			wantProbs, wantDens := circuit(t, cpu)
			gotProbs, gotDens := circuit(t, gpu)
			assert.InDeltaSlice(t, wantProbs, gotProbs, 1e-5)
			assert.InDeltaSlice(t, wantDens, gotDens, 1e-5)
			assert.Zero(t, pool.Stats().Live, "circuit releases every buffer")
		})
	}
}

func TestAcceleratorWarm(t *testing.T) {
	a := initOrSkip(t)

	l, err := kernel.NewLibrary(kernel.Config{Codec: codec.ByteCodec{}, Runner: a})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Warm())
	progs, err := l.Programs()
	require.NoError(t, err)
	assert.Equal(t, len(progs), a.PipelineStats().Len)
}

func TestAcceleratorSyncRoundTrip(t *testing.T) {
	a := initOrSkip(t)

	l, err := kernel.NewLibrary(kernel.Config{Codec: codec.ByteCodec{}, Runner: a})
	require.NoError(t, err)
	defer l.Close()

	in, err := l.Upload(3, codec.Vec2, []float32{1, 0, 0, 1, -1, 0, 0, -1, 0.5, 0.5, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	defer in.Release()

	out, err := l.Copy(in)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, texture.ResidentDevice, out.Residency())

	got, err := l.Read(out)
	require.NoError(t, err)
	want, err := l.Read(in)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, out.Residency().Has(texture.ResidentHost|texture.ResidentDevice))
}
