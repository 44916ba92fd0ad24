//go:build !nogpu

package gpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/qsim"
	"github.com/gogpu/qsim/texture"
)

// storageUsage covers every role a texture buffer plays: bound as input or
// output, written from the host and copied to a staging buffer for reads.
const storageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

// deviceBuffer is the device resource attached to a pooled texture slot.
type deviceBuffer struct {
	buf    hal.Buffer
	size   uint64
	device hal.Device
	epoch  uint64
}

// bufferFor returns the storage buffer behind t, creating it when the slot
// has none or one from a previous device. When upload is set and the device
// copy is stale, the host pixels are written first. Caller must hold a.mu.
//
// Oversized textures fail with an error matching ErrBufferTooLarge,
// texture.ErrCapacity and qsim.ErrFallbackToCPU.
func (a *Accelerator) bufferFor(t *texture.Texture, upload bool) (*deviceBuffer, error) {
	size := uint64(t.ByteSize())
	if limit := a.limits.MaxStorageBufferBindingSize; limit > 0 && size > limit {
		return nil, fmt.Errorf("%w (%w, %w): %v is %d bytes, limit %d",
			ErrBufferTooLarge, texture.ErrCapacity, qsim.ErrFallbackToCPU, t, size, limit)
	}
	dev, err := t.Device()
	if err != nil {
		return nil, err
	}
	db, ok := dev.(*deviceBuffer)
	if !ok || db.epoch != a.epoch || db.size != size {
		// Without a host copy the pixels existed only in the old buffer.
		if upload && !t.Residency().Has(texture.ResidentHost) {
			return nil, fmt.Errorf("%w: %v", ErrDeviceLost, t)
		}
		if ok && db.epoch == a.epoch {
			a.destroyBuffer(db)
		}
		db, err = a.createBuffer(t.Label(), size)
		if err != nil {
			return nil, err
		}
		if err := t.SetDevice(db); err != nil {
			a.destroyBuffer(db)
			return nil, err
		}
		// A fresh buffer holds nothing.
		if err := t.SetResidency(t.Residency() &^ texture.ResidentDevice); err != nil {
			return nil, err
		}
	}

	if !upload || t.Residency().Has(texture.ResidentDevice) {
		return db, nil
	}
	px, err := t.Pixels()
	if err != nil {
		return nil, err
	}
	if err := a.queue.WriteBuffer(db.buf, 0, px); err != nil {
		return nil, fmt.Errorf("gpu: upload %v: %w", t, err)
	}
	if err := t.SetResidency(t.Residency() | texture.ResidentDevice); err != nil {
		return nil, err
	}
	return db, nil
}

func (a *Accelerator) createBuffer(label string, size uint64) (*deviceBuffer, error) {
	if label == "" {
		label = "qsim_texture"
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: storageUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer (%d bytes): %w", size, err)
	}
	return &deviceBuffer{buf: buf, size: size, device: a.device, epoch: a.epoch}, nil
}

// destroyBuffer frees db if it belongs to the current device.
// Caller must hold a.mu.
func (a *Accelerator) destroyBuffer(db *deviceBuffer) {
	if db == nil || db.buf == nil || db.epoch != a.epoch || a.device == nil {
		return
	}
	a.device.DestroyBuffer(db.buf)
	db.buf = nil
}

// Drop frees the device buffer of a pooled slot that is being discarded.
// It is installed as the pool's drop function.
func (a *Accelerator) Drop(device any) {
	db, ok := device.(*deviceBuffer)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyBuffer(db)
}

// Sync copies the device pixels of t back to the host when the host copy
// is stale.
func (a *Accelerator) Sync(t *texture.Texture) error {
	if err := t.Check(); err != nil {
		return err
	}
	if t.Residency().Has(texture.ResidentHost) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return ErrNotReady
	}
	dev, err := t.Device()
	if err != nil {
		return err
	}
	db, ok := dev.(*deviceBuffer)
	if !ok || db.epoch != a.epoch {
		return fmt.Errorf("%w: %v", ErrDeviceLost, t)
	}
	data, err := a.readBuffer(db.buf, db.size)
	if err != nil {
		return fmt.Errorf("gpu: read %v: %w", t, err)
	}
	if err := t.SetPixels(data); err != nil {
		return err
	}
	return t.SetResidency(texture.ResidentHost | texture.ResidentDevice)
}

// readBuffer copies size bytes of src into a mappable staging buffer and
// returns them. Caller must hold a.mu.
func (a *Accelerator) readBuffer(src hal.Buffer, size uint64) ([]byte, error) {
	staging, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "qsim_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer a.device.DestroyBuffer(staging)

	err = a.submit("qsim_readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(src, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: size}})
	})
	if err != nil {
		return nil, err
	}

	m, err := a.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size)) //nolint:gosec // mapped range is size bytes
	if err := a.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap staging buffer: %w", err)
	}
	return out, nil
}
