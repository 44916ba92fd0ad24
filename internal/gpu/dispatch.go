//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/qsim"
	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

// codecFor returns the codec that owns buffers of format f.
func codecFor(f codec.PixelFormat) (codec.Codec, error) {
	switch f {
	case codec.FormatRGBA32F:
		return codec.New(codec.TagFloat)
	case codec.FormatRGBA8:
		return codec.New(codec.TagByte)
	default:
		return nil, fmt.Errorf("%w: unknown pixel format %v", kernel.ErrConfiguration, f)
	}
}

// workgroups returns the dispatch size covering the physical grid of t.
func workgroups(t *texture.Texture) (x, y uint32) {
	const wg = codec.WorkgroupSize
	x = uint32((t.PhysWidth() + wg - 1) / wg)
	y = uint32((t.Height() + wg - 1) / wg)
	return x, y
}

// Run dispatches inv as a single compute pass and waits for it to finish.
// The output becomes resident on the device only; Sync brings it back.
//
// Errors for invocations the device cannot take, because it is not
// initialized or a buffer exceeds its limits, match qsim.ErrFallbackToCPU.
func (a *Accelerator) Run(inv *kernel.Invocation) error {
	if err := inv.Output.Check(); err != nil {
		return fmt.Errorf("%s output: %w", inv.Program.Name, err)
	}
	c, err := codecFor(inv.Output.Format())
	if err != nil {
		return err
	}
	if err := inv.Validate(c); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return fmt.Errorf("%s: %w (%w)", inv.Program.Name, ErrNotReady, qsim.ErrFallbackToCPU)
	}

	pl, err := a.pipelineFor(inv.Program)
	if err != nil {
		return err
	}

	inputs := make([]*deviceBuffer, len(inv.Inputs))
	for i, in := range inv.Inputs {
		if inputs[i], err = a.bufferFor(in, true); err != nil {
			return err
		}
	}
	out, err := a.bufferFor(inv.Output, false)
	if err != nil {
		return err
	}

	uniforms := inv.Uniforms()
	ubuf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: inv.Program.Name + "_params",
		Size:  uint64(len(uniforms)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%s: create uniform buffer: %w", inv.Program.Name, err)
	}
	defer a.device.DestroyBuffer(ubuf)
	if err := a.queue.WriteBuffer(ubuf, 0, uniforms); err != nil {
		return fmt.Errorf("%s: write uniforms: %w", inv.Program.Name, err)
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(inputs)+2)
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  0,
		Resource: gputypes.BufferBinding{Buffer: ubuf.NativeHandle(), Offset: 0, Size: uint64(len(uniforms))},
	})
	for i, db := range inputs {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 1),
			Resource: gputypes.BufferBinding{Buffer: db.buf.NativeHandle(), Offset: 0, Size: db.size},
		})
	}
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  uint32(len(inputs) + 1),
		Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: out.size},
	})
	bg, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   inv.Program.Name + "_bind_group",
		Layout:  pl.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%s: create bind group: %w", inv.Program.Name, err)
	}
	defer a.device.DestroyBindGroup(bg)

	x, y := workgroups(inv.Output)
	err = a.submit(inv.Program.Name, func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: inv.Program.Name})
		pass.SetPipeline(pl.compute)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(x, y, 1)
		pass.End()
	})
	if err != nil {
		return fmt.Errorf("%s: %w", inv.Program.Name, err)
	}
	slogger().Debug("gpu: dispatched", "program", inv.Program.Name, "workgroups_x", x, "workgroups_y", y)
	return inv.Output.SetResidency(texture.ResidentDevice)
}

// submit records commands with record, submits them and waits for the
// device to go idle. Caller must hold a.mu.
func (a *Accelerator) submit(label string, record func(enc hal.CommandEncoder)) error {
	enc, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	record(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmd)

	if _, err := a.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := a.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}
