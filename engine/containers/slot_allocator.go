package containers

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
)

// MaxStorageBytes bounds the backing store of a single allocator.
const MaxStorageBytes = 1 << 30

// SlotAllocator hands out small integer indices into a growable array of
// fixed-stride slots. The smallest free index is always handed out first.
//
// Growing replaces the backing storage: callers must not keep slices
// returned by Slot or Storage across an Acquire or Resize that grows.
// Generation changes every time the storage is replaced.
//
// A SlotAllocator is not safe for concurrent use.
type SlotAllocator struct {
	capacity   int
	stride     int
	maxSlots   int
	single     bool
	free       *IndexHeap
	storage    []byte
	highWater  int
	inUse      int
	generation uint32
}

// NewSlotAllocator creates an allocator with length slots of stride bytes.
// A length of 1 creates the degenerate single-slot allocator: index 0 is
// always available, never recycled, and the allocator never grows.
// maxSlots bounds growth; 0 means unbounded.
func NewSlotAllocator(length, stride, maxSlots int) (*SlotAllocator, error) {
	if length < 1 || stride < 1 {
		return nil, fmt.Errorf("%w: slot allocator needs length >= 1 and stride >= 1 (got %d, %d)", core.ErrInvalidUsage, length, stride)
	}
	if maxSlots > 0 && length > maxSlots {
		return nil, fmt.Errorf("%w: %d slots requested, limit is %d", core.ErrResourceExhausted, length, maxSlots)
	}
	if err := checkStorageSize(length, stride); err != nil {
		return nil, err
	}
	sa := &SlotAllocator{
		capacity: length,
		stride:   stride,
		maxSlots: maxSlots,
		single:   length == 1,
		storage:  make([]byte, length*stride),
	}
	if !sa.single {
		sa.free = NewIndexHeap(0, length)
	}
	return sa, nil
}

// Acquire returns the smallest free index, growing the storage by 1.5x
// (at least one slot) when none is free.
func (sa *SlotAllocator) Acquire() (int, error) {
	if sa.single {
		sa.highWater = 1
		sa.inUse = 1
		return 0, nil
	}
	if sa.free.Len() == 0 {
		capacity := math.GrowCapacity(sa.capacity)
		if sa.maxSlots > 0 && capacity > sa.maxSlots {
			if sa.capacity >= sa.maxSlots {
				return -1, fmt.Errorf("%w: slot allocator is at its limit of %d slots", core.ErrResourceExhausted, sa.maxSlots)
			}
			capacity = sa.maxSlots
		}
		if err := sa.grow(capacity); err != nil {
			return -1, err
		}
	}
	index, _ := sa.free.Pop()
	sa.inUse++
	if index+1 > sa.highWater {
		sa.highWater = index + 1
	}
	return index, nil
}

// Release returns index to the free set. Releasing an index twice without
// acquiring it in between is undefined.
func (sa *SlotAllocator) Release(index int) {
	if sa.single {
		return
	}
	if index < 0 || index >= sa.capacity {
		core.LogWarn("slot allocator: release of out of range index %d (capacity %d) ignored", index, sa.capacity)
		return
	}
	sa.free.Push(index)
	sa.inUse--
}

// Resize grows the allocator to hold at least n slots. Shrinking is not
// supported and a smaller n is a no-op, as is any resize of a single-slot
// allocator. Growing past the slot limit fails and leaves the allocator
// unchanged.
func (sa *SlotAllocator) Resize(n int) error {
	if sa.single || n <= sa.capacity {
		return nil
	}
	if sa.maxSlots > 0 && n > sa.maxSlots {
		return fmt.Errorf("%w: resize to %d slots, limit is %d", core.ErrResourceExhausted, n, sa.maxSlots)
	}
	return sa.grow(n)
}

func (sa *SlotAllocator) grow(capacity int) error {
	if err := checkStorageSize(capacity, sa.stride); err != nil {
		return err
	}
	storage := make([]byte, capacity*sa.stride)
	// Only the prefix that was ever handed out carries data.
	copy(storage, sa.storage[:sa.highWater*sa.stride])

	sa.free.PushRange(sa.capacity, capacity)
	sa.storage = storage
	sa.capacity = capacity
	sa.generation++
	core.LogDebug("slot allocator grown to %d slots (%d bytes)", capacity, len(storage))
	return nil
}

// checkStorageSize rejects stores that overflow int or exceed MaxStorageBytes.
func checkStorageSize(slots, stride int) error {
	if slots > MaxStorageBytes/stride {
		return fmt.Errorf("%w: %d slots of %d bytes exceed the %d byte storage limit", core.ErrResourceExhausted, slots, stride, MaxStorageBytes)
	}
	return nil
}

// Slot returns the bytes of the slot at index. The slice is only valid until
// the next growth.
func (sa *SlotAllocator) Slot(index int) []byte {
	if index < 0 || index >= sa.capacity {
		return nil
	}
	return sa.storage[index*sa.stride : (index+1)*sa.stride]
}

// Storage returns the whole backing store.
func (sa *SlotAllocator) Storage() []byte {
	return sa.storage
}

func (sa *SlotAllocator) Capacity() int {
	return sa.capacity
}

func (sa *SlotAllocator) Stride() int {
	return sa.stride
}

// InUse returns the number of indices currently held.
func (sa *SlotAllocator) InUse() int {
	return sa.inUse
}

// Generation changes every time the backing storage is replaced.
func (sa *SlotAllocator) Generation() uint32 {
	return sa.generation
}
