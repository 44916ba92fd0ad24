//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/qsim/kernel"
)

// compileWGSL compiles a WGSL module to SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("failed to compile shader: %d byte SPIR-V is not word aligned", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// bindingLayout returns the bind group layout entries of a program: the
// uniform block at binding 0, read-only inputs from binding 1 and the
// output storage buffer last.
func bindingLayout(p *kernel.Program) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(p.Inputs)+2)
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	})
	for i := range p.Inputs {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i + 1),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    uint32(len(p.Inputs) + 1),
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	})
	return entries
}

// pipeline holds the compiled device objects of one program.
type pipeline struct {
	name       string
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	compute    hal.ComputePipeline
}

// destroy releases the pipeline objects in reverse creation order.
func (p *pipeline) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if p.compute != nil {
		device.DestroyComputePipeline(p.compute)
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
	}
}

// createPipeline compiles p and builds its compute pipeline.
func createPipeline(device hal.Device, p *kernel.Program) (*pipeline, error) {
	spirv, err := compileWGSL(p.Source())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}

	pl := &pipeline{name: p.Name}
	pl.shader, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.Name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: create shader module: %w", p.Name, err)
	}

	pl.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.Name + "_bind_layout",
		Entries: bindingLayout(p),
	})
	if err != nil {
		pl.destroy(device)
		return nil, fmt.Errorf("%s: create bind group layout: %w", p.Name, err)
	}

	pl.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.Name + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{pl.bindLayout},
	})
	if err != nil {
		pl.destroy(device)
		return nil, fmt.Errorf("%s: create pipeline layout: %w", p.Name, err)
	}

	pl.compute, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  p.Name,
		Layout: pl.pipeLayout,
		Compute: hal.ComputeState{
			Module:     pl.shader,
			EntryPoint: "main",
		},
	})
	if err != nil {
		pl.destroy(device)
		return nil, fmt.Errorf("%s: create compute pipeline: %w", p.Name, err)
	}
	return pl, nil
}

// pipelineFor returns the cached pipeline for p, compiling it on first use.
// Programs are keyed by their full source, so specialized variants sharing
// a name never collide. Caller must hold a.mu.
func (a *Accelerator) pipelineFor(p *kernel.Program) (*pipeline, error) {
	return a.pipelines.GetOrCreate(p.Source(), func() (*pipeline, error) {
		pl, err := createPipeline(a.device, p)
		if err != nil {
			return nil, err
		}
		slogger().Debug("gpu: compiled pipeline", "program", p.Name)
		return pl, nil
	})
}
