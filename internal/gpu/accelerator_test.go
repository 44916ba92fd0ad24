//go:build !nogpu

package gpu

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/qsim"
	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

func TestAcceleratorName(t *testing.T) {
	a := &Accelerator{}
	assert.Equal(t, "vulkan", a.Name())
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		format codec.PixelFormat
		want   codec.Tag
	}{
		{codec.FormatRGBA32F, codec.TagFloat},
		{codec.FormatRGBA8, codec.TagByte},
	}
	for _, tt := range tests {
		c, err := codecFor(tt.format)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Tag())
	}
	_, err := codecFor(codec.PixelFormat(9))
	assert.ErrorIs(t, err, kernel.ErrConfiguration)
}

func TestWorkgroups(t *testing.T) {
	pool := texture.NewPool()
	tests := []struct {
		bits  int
		tag   codec.Tag
		a     codec.Arity
		wantX uint32
		wantY uint32
	}{
		{0, codec.TagFloat, codec.Scalar, 1, 1},
		{6, codec.TagFloat, codec.Vec2, 1, 1},
		{10, codec.TagFloat, codec.Vec2, 4, 4},
		{10, codec.TagByte, codec.Vec2, 8, 4},
		{11, codec.TagByte, codec.Vec4, 32, 4},
	}
	for _, tt := range tests {
		c, err := codec.New(tt.tag)
		require.NoError(t, err)
		tex, err := pool.TakeBits(tt.bits, tt.a, c)
		require.NoError(t, err)
		x, y := workgroups(tex)
		assert.Equal(t, [2]uint32{tt.wantX, tt.wantY}, [2]uint32{x, y}, "workgroups(%v)", tex)
		require.NoError(t, tex.Release())
	}
}

func TestAcceleratorNotReady(t *testing.T) {
	a := &Accelerator{}
	l, err := kernel.NewLibrary(kernel.Config{Codec: codec.FloatCodec{}})
	require.NoError(t, err)
	defer l.Close()

	progs, err := l.Programs()
	require.NoError(t, err)
	assert.ErrorIs(t, a.Precompile(progs[0]), ErrNotReady)

	// Host-resident textures need no device.
	tex, err := l.Pool().TakeBits(2, codec.Vec2, l.Codec())
	require.NoError(t, err)
	assert.NoError(t, a.Sync(tex))

	require.NoError(t, tex.SetResidency(texture.ResidentDevice))
	assert.ErrorIs(t, a.Sync(tex), ErrNotReady)

	require.NoError(t, tex.Release())
	assert.ErrorIs(t, a.Sync(tex), texture.ErrReleased)

	a.Close()
	a.Close()
}

func TestBufferForCapacity(t *testing.T) {
	a := &Accelerator{limits: gputypes.Limits{MaxStorageBufferBindingSize: 64}}
	tex, err := texture.NewPool().TakeBits(4, codec.Vec2, codec.FloatCodec{})
	require.NoError(t, err)
	defer tex.Release()

	_, err = a.bufferFor(tex, true)
	assert.ErrorIs(t, err, ErrBufferTooLarge)
	assert.ErrorIs(t, err, texture.ErrCapacity)
	assert.ErrorIs(t, err, qsim.ErrFallbackToCPU)
}

func TestDropIgnoresForeignResources(t *testing.T) {
	a := &Accelerator{}
	a.Drop(nil)
	a.Drop("not a buffer")
	a.Drop(&deviceBuffer{epoch: 3})
}

type fakeHalProvider struct {
	device any
	queue  any
}

func (p fakeHalProvider) HalDevice() any { return p.device }
func (p fakeHalProvider) HalQueue() any  { return p.queue }

func TestSetDeviceProviderRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider any
		want     string
	}{
		{"no hal types", struct{}{}, "does not expose HAL types"},
		{"wrong device", fakeHalProvider{device: 1}, "HalDevice is not hal.Device"},
		{"nil device", fakeHalProvider{}, "HalDevice is not hal.Device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Accelerator{}
			err := a.SetDeviceProvider(tt.provider)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSetLogger(t *testing.T) {
	t.Cleanup(func() { setLogger(nil) })

	var buf bytes.Buffer
	a := &Accelerator{}
	a.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	slogger().Debug("gpu: dispatched", "program", "swap")
	assert.Contains(t, buf.String(), "program=swap")

	a.SetLogger(nil)
	assert.False(t, slogger().Enabled(t.Context(), slog.LevelError), "SetLogger(nil) silences the package logger")
}

func TestPipelineStatsEmpty(t *testing.T) {
	a := &Accelerator{}
	assert.Zero(t, a.PipelineStats())
}

func TestErrorsDistinct(t *testing.T) {
	errs := []error{ErrNotReady, ErrBufferTooLarge, ErrDeviceLost}
	for i, a := range errs {
		for j, b := range errs {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}
}
