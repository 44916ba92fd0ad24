//go:build nogpu

package gpu

import "github.com/gogpu/gpucontext"

// SetDeviceProvider is a no-op in nogpu builds.
func SetDeviceProvider(gpucontext.DeviceProvider) error { return nil }
