package systems

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/containers"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// CreateBuffer creates a buffer of opts.Slots slots of opts.Stride bytes. A
// single slot buffer never grows. A registered key returns the existing
// buffer and ignores opts.
func (rm *ResourceManager) CreateBuffer(key metadata.Key, opts metadata.BufferOptions) (*metadata.Buffer, error) {
	if err := rm.checkOpen(metadata.ResourceKindBuffer, key); err != nil {
		return nil, err
	}
	return rm.bufferBuild(key, opts).createSync()
}

func (rm *ResourceManager) AsyncCreateBuffer(key metadata.Key, opts metadata.BufferOptions, handler func(*metadata.Buffer, error)) {
	if err := rm.checkOpen(metadata.ResourceKindBuffer, key); err != nil {
		if handler != nil {
			handler(nil, err)
		}
		return
	}
	rm.bufferBuild(key, opts).createAsync(rm.scheduler, rm.backend.Multithreaded(), handler)
}

func (rm *ResourceManager) LookupBuffer(key metadata.Key) (*metadata.Buffer, bool) {
	return rm.buffers.get(key)
}

func (rm *ResourceManager) bufferBuild(key metadata.Key, opts metadata.BufferOptions) *build[*metadata.Buffer, *containers.SlotAllocator] {
	b := newBuild[*metadata.Buffer, *containers.SlotAllocator](rm, rm.buffers, metadata.ResourceKindBuffer, key)
	b.prepare = func() (*containers.SlotAllocator, error) {
		slots := opts.Slots
		if slots == 0 {
			slots = 1
		}
		if opts.Stride <= 0 || slots < 0 {
			return nil, invalidUsage("buffer %d: needs a positive stride and slot count (got %d, %d)", key, opts.Stride, opts.Slots)
		}
		return containers.NewSlotAllocator(slots, opts.Stride, rm.config.MaxBufferSlots)
	}
	b.realize = func(slots *containers.SlotAllocator) (*metadata.Buffer, error) {
		buf := &metadata.Buffer{
			Resource: metadata.Resource{
				Key:   key,
				Kind:  metadata.ResourceKindBuffer,
				Label: opts.Label,
			},
			Usage:              opts.Usage,
			Stride:             opts.Stride,
			Slots:              slots,
			UploadedGeneration: slots.Generation(),
		}
		if err := rm.backend.BufferCreate(buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	b.destroy = rm.destroyBuffer
	return b
}

func (rm *ResourceManager) destroyBuffer(buf *metadata.Buffer) {
	rm.backend.BufferDestroy(buf)
}

func (rm *ResourceManager) checkBuffer(buf *metadata.Buffer) error {
	if buf == nil || buf.Slots == nil {
		return invalidUsage("buffer is nil or was never created")
	}
	if buf.Failed {
		err := fmt.Errorf("%w: buffer %s is unusable after a failed resize", core.ErrResourceExhausted, buf.String())
		core.LogError(err.Error())
		return err
	}
	return nil
}

// syncNative recreates the native buffer when the slot storage was replaced.
// A failure marks the buffer as unusable.
func (rm *ResourceManager) syncNative(buf *metadata.Buffer) error {
	if buf.UploadedGeneration == buf.Slots.Generation() {
		return nil
	}
	if err := rm.backend.BufferResize(buf); err != nil {
		buf.Failed = true
		err = fmt.Errorf("%w: buffer %s could not grow to %d bytes: %v", core.ErrResourceExhausted, buf.String(), buf.Size(), err)
		core.LogError(err.Error())
		return err
	}
	buf.UploadedGeneration = buf.Slots.Generation()
	return nil
}

/**
 * @brief Acquires the smallest free slot of the buffer, growing it when every
 * slot is taken. Growth replaces the native buffer; slices previously
 * returned for its slots must not be used afterwards.
 * @returns The slot index, or -1 with an error wrapping core.ErrResourceExhausted.
 */
func (rm *ResourceManager) BufferAcquireSlot(buf *metadata.Buffer) (int, error) {
	if err := rm.checkBuffer(buf); err != nil {
		return -1, err
	}
	index, err := buf.Slots.Acquire()
	if err != nil {
		core.LogError("buffer %s: %s", buf.String(), err)
		return -1, err
	}
	if err := rm.syncNative(buf); err != nil {
		buf.Slots.Release(index)
		return -1, err
	}
	return index, nil
}

// BufferReleaseSlot returns a slot to the buffer. Releasing a slot twice
// without acquiring it in between is undefined.
func (rm *ResourceManager) BufferReleaseSlot(buf *metadata.Buffer, index int) error {
	if err := rm.checkBuffer(buf); err != nil {
		return err
	}
	if index < 0 || index >= buf.Slots.Capacity() {
		return invalidUsage("buffer %s: release of slot %d, capacity is %d", buf.String(), index, buf.Slots.Capacity())
	}
	buf.Slots.Release(index)
	return nil
}

// BufferWriteSlot copies data into a slot and uploads it.
func (rm *ResourceManager) BufferWriteSlot(buf *metadata.Buffer, index int, data []byte) error {
	if err := rm.checkBuffer(buf); err != nil {
		return err
	}
	slot := buf.Slots.Slot(index)
	if slot == nil {
		return invalidUsage("buffer %s: write to slot %d, capacity is %d", buf.String(), index, buf.Slots.Capacity())
	}
	if len(data) > len(slot) {
		return invalidUsage("buffer %s: %d bytes do not fit a %d byte slot", buf.String(), len(data), len(slot))
	}
	copy(slot, data)
	if err := rm.backend.BufferUpload(buf, index*buf.Stride, buf.Stride); err != nil {
		err = fmt.Errorf("%w: buffer %s: upload of slot %d: %v", core.ErrConstructionFailure, buf.String(), index, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// BufferResize grows the buffer to at least n slots.
func (rm *ResourceManager) BufferResize(buf *metadata.Buffer, n int) error {
	if err := rm.checkBuffer(buf); err != nil {
		return err
	}
	if err := buf.Slots.Resize(n); err != nil {
		core.LogError("buffer %s: %s", buf.String(), err)
		return err
	}
	return rm.syncNative(buf)
}
