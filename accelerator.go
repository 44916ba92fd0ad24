package qsim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

// ErrFallbackToCPU indicates the GPU accelerator cannot run an invocation.
// Engines in BackendAuto mode run it on the CPU instead; BackendGPU
// engines return the error.
var ErrFallbackToCPU = errors.New("qsim: falling back to CPU execution")

// GPUAccelerator is an optional device runner for kernel invocations.
//
// Implementations are provided by GPU backend packages. Users opt in with a
// blank import:
//
//	import _ "github.com/gogpu/qsim/gpu"
type GPUAccelerator interface {
	kernel.Runner

	// Init acquires the device. Called once during registration.
	Init() error

	// FloatStorage reports whether the device can store RGBA32F buffers.
	// Engines pick the byte codec when it cannot.
	FloatStorage() bool

	// Drop destroys a device resource attached to pooled storage.
	Drop(device any)
}

// DeviceProviderAware is implemented by accelerators that can run on a
// device owned by the host application instead of creating their own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	accelMu sync.RWMutex
	accel   GPUAccelerator
)

// RegisterAccelerator registers the GPU accelerator. Only one accelerator
// is registered at a time; a later call replaces and closes the previous
// one. Init is called first and a failing accelerator is not registered.
func RegisterAccelerator(a GPUAccelerator) error {
	if a == nil {
		return errors.New("qsim: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	propagateLogger(a, Logger())

	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil {
		old.Close()
	}
	Logger().Info("qsim: accelerator registered", "name", a.Name(), "float_storage", a.FloatStorage())
	return nil
}

// Accelerator returns the registered GPU accelerator, or nil if none.
func Accelerator() GPUAccelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// SetAcceleratorDeviceProvider passes a device provider to the registered
// accelerator so it shares the host's GPU device. It is a no-op if no
// accelerator is registered or it does not support sharing.
func SetAcceleratorDeviceProvider(provider gpucontext.DeviceProvider) error {
	a := Accelerator()
	if a == nil || provider == nil {
		return nil
	}
	if dpa, ok := a.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}

// fallbackRunner runs invocations on the accelerator and moves those it
// rejects with ErrFallbackToCPU to the CPU runner. Inputs are synced to
// the host first; the CPU output is host-resident and uploads again on
// its next GPU use.
type fallbackRunner struct {
	gpu       GPUAccelerator
	cpu       *kernel.CPURunner
	fallbacks int
}

var _ kernel.Runner = (*fallbackRunner)(nil)

func (r *fallbackRunner) Name() string { return r.gpu.Name() + "+cpu" }

func (r *fallbackRunner) Run(inv *kernel.Invocation) error {
	err := r.gpu.Run(inv)
	if !errors.Is(err, ErrFallbackToCPU) {
		return err
	}
	for _, in := range inv.Inputs {
		if serr := r.gpu.Sync(in); serr != nil {
			return fmt.Errorf("qsim: %s: cpu fallback: %w", inv.Program.Name, errors.Join(err, serr))
		}
	}
	if r.fallbacks == 0 {
		Logger().Warn("qsim: GPU rejected invocation, running on CPU", "program", inv.Program.Name, "err", err)
	}
	r.fallbacks++
	return r.cpu.Run(inv)
}

func (r *fallbackRunner) Sync(t *texture.Texture) error { return r.gpu.Sync(t) }

// Close stops the CPU runner. The accelerator is shared and stays open.
func (r *fallbackRunner) Close() { r.cpu.Close() }
