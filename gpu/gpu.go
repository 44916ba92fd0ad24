//go:build !nogpu

// Package gpu registers the Vulkan compute accelerator.
//
// Import this package for its side effect to run kernels as wgpu/hal compute
// dispatches:
//
//	import _ "github.com/gogpu/qsim/gpu"
//
// If GPU initialization fails (no Vulkan device available), registration is
// skipped with a warning on qsim.Logger() and engines created with
// qsim.BackendAuto run on the CPU.
//
// Build with -tags nogpu to exclude the accelerator entirely.
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/qsim"
	gpuimpl "github.com/gogpu/qsim/internal/gpu"
)

func init() {
	if err := qsim.RegisterAccelerator(&gpuimpl.Accelerator{}); err != nil {
		qsim.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// SetDeviceProvider configures the GPU accelerator to use a shared GPU device
// from an external provider (e.g., gogpu). This avoids creating a separate
// GPU instance.
//
// The provider must also expose HalDevice() and HalQueue() for direct HAL
// access.
func SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	return qsim.SetAcceleratorDeviceProvider(provider)
}
