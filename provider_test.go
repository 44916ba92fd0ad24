package qsim

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// mockProvider implements gpucontext.DeviceProvider without a device.
type mockProvider struct{}

var _ gpucontext.DeviceProvider = (*mockProvider)(nil)

func (p *mockProvider) Device() gpucontext.Device   { return nil }
func (p *mockProvider) Queue() gpucontext.Queue     { return nil }
func (p *mockProvider) Adapter() gpucontext.Adapter { return nil }

func (p *mockProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

func (p *mockProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "mock", Type: gpucontext.AdapterTypeSoftware}
}
