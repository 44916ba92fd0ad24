//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/internal/cache"
	"github.com/gogpu/qsim/kernel"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var (
	// ErrNotReady is returned when work is submitted before Init succeeded
	// or after Close.
	ErrNotReady = errors.New("gpu: accelerator not initialized")

	// ErrBufferTooLarge is returned when a texture exceeds the device's
	// storage buffer binding limit.
	ErrBufferTooLarge = errors.New("gpu: buffer exceeds device storage limit")

	// ErrDeviceLost is returned when the only current copy of a texture
	// lived on a device the accelerator has since released or replaced.
	ErrDeviceLost = errors.New("gpu: texture contents lost with previous device")
)

// DefaultPipelineCacheSize bounds the number of compiled compute pipelines.
const DefaultPipelineCacheSize = 64

// Accelerator runs kernel invocations as compute dispatches on a wgpu/hal
// device. It implements kernel.Runner and kernel.Precompiler.
type Accelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits

	adapterName  string
	floatStorage bool

	pipelines *cache.Cache[string, *pipeline]

	// epoch increments whenever the device changes. Buffers created on an
	// older device are never destroyed through the current one.
	epoch uint64

	ready          bool
	externalDevice bool // true when using shared device (don't destroy on Close)
}

var (
	_ kernel.Runner      = (*Accelerator)(nil)
	_ kernel.Precompiler = (*Accelerator)(nil)
)

// Name returns "vulkan".
func (a *Accelerator) Name() string { return "vulkan" }

// Init opens the first discrete or integrated adapter. It fails when no
// Vulkan device is available so the caller can fall back to the CPU.
func (a *Accelerator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	if err := a.initGPU(); err != nil {
		a.releaseDevice()
		return fmt.Errorf("gpu: init: %w", err)
	}
	return nil
}

func (a *Accelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	a.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	selected := selectAdapter(adapters)
	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	a.attach(openDev.Device, openDev.Queue, limits)
	a.adapterName = selected.Info.Name
	a.floatStorage = floatStorage(selected.Adapter)
	slogger().Info("gpu: accelerator initialized",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"float_storage", a.floatStorage)
	return nil
}

// selectAdapter prefers a hardware GPU over software renderers.
func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

// floatStorage reports whether adapter offers storage access to RGBA32F.
// Kernels bind plain storage buffers, so this is a proxy: adapters without
// it are the low-end and software devices where 32-bit float arithmetic in
// compute shaders is slow or imprecise, and the byte codec is preferred.
func floatStorage(adapter hal.Adapter) bool {
	caps := adapter.TextureFormatCapabilities(codec.FormatRGBA32F.GPUFormat())
	return caps.Flags&hal.TextureFormatCapabilityStorage != 0
}

// attach makes device and queue current and resets the pipeline cache.
// Caller must hold a.mu.
func (a *Accelerator) attach(device hal.Device, queue hal.Queue, limits gputypes.Limits) {
	a.device = device
	a.queue = queue
	a.limits = limits
	a.epoch++
	a.pipelines = cache.New[string, *pipeline](DefaultPipelineCacheSize, func(_ string, p *pipeline) {
		p.destroy(device)
	})
	a.ready = true
}

// releaseDevice destroys pipelines and, unless shared, the device itself.
// Caller must hold a.mu.
func (a *Accelerator) releaseDevice() {
	if a.pipelines != nil {
		a.pipelines.Clear()
		a.pipelines = nil
	}
	if !a.externalDevice {
		if a.device != nil {
			a.device.Destroy()
		}
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.device = nil
	a.queue = nil
	a.instance = nil
	a.ready = false
	a.externalDevice = false
}

// Close releases every device resource the accelerator created.
// Device buffers still attached to pooled textures become stale and are
// recreated if the accelerator is initialized again.
func (a *Accelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseDevice()
}

// FloatStorage reports whether the adapter supports RGBA32F storage, which
// decides between the float and byte codecs.
func (a *Accelerator) FloatStorage() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.floatStorage
}

// AdapterName returns the name of the adapter in use.
func (a *Accelerator) AdapterName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapterName
}

// SetLogger sets the logger for GPU operations.
func (a *Accelerator) SetLogger(l *slog.Logger) {
	setLogger(l)
}

// SetDeviceProvider switches the accelerator to a shared GPU device from an
// external provider. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. When it also
// implements gpucontext.DeviceProvider, its adapter info is recorded and a
// hal.Adapter from Adapter() is queried for float storage. Without an
// adapter to query, float storage is assumed unless the adapter is a
// software one.
//
// Textures whose only current copy is on the previous device cannot be
// used afterwards; dispatches and reads on them fail with ErrDeviceLost.
func (a *Accelerator) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.releaseDevice()
	a.attach(device, queue, gputypes.DefaultLimits())
	a.externalDevice = true
	a.adapterName = ""
	a.floatStorage = true

	if dp, ok := provider.(gpucontext.DeviceProvider); ok {
		info := dp.AdapterInfo()
		a.adapterName = info.Name
		if adapter, ok := dp.Adapter().(hal.Adapter); ok && adapter != nil {
			a.floatStorage = floatStorage(adapter)
		} else if info.Type == gpucontext.AdapterTypeSoftware {
			a.floatStorage = false
		}
	}
	slogger().Info("gpu: switched to shared GPU device", "adapter", a.adapterName)
	return nil
}

// Precompile builds and caches the compute pipeline for p.
func (a *Accelerator) Precompile(p *kernel.Program) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return ErrNotReady
	}
	_, err := a.pipelineFor(p)
	return err
}

// PipelineStats returns pipeline cache statistics.
func (a *Accelerator) PipelineStats() cache.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pipelines == nil {
		return cache.Stats{}
	}
	return a.pipelines.Stats()
}
