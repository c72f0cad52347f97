package metadata

import "github.com/spaghettifunk/kiln/engine/containers"

type BufferUsage uint8

const (
	BufferUsageUniform BufferUsage = iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
)

/**
 * @brief A GPU-visible buffer split into fixed-stride slots addressed by a
 * small integer index. Buffers with more than one slot own a slot allocator.
 */
type Buffer struct {
	Resource
	Usage  BufferUsage
	Stride int
	/** @brief The slot allocator. Single-slot buffers use the degenerate allocator. */
	Slots *containers.SlotAllocator
	/** @brief Storage generation last uploaded to the native buffer. */
	UploadedGeneration uint32
	/** @brief Set when growing the native buffer failed; the buffer is unusable. */
	Failed bool
}

func (b *Buffer) isNative() {}

// Size returns the size in bytes of the backing store.
func (b *Buffer) Size() int {
	if b.Slots == nil {
		return 0
	}
	return len(b.Slots.Storage())
}

type BufferOptions struct {
	Usage  BufferUsage
	Stride int
	/** @brief Initial slot count. 1 creates a single-slot buffer. */
	Slots int
	Label string
}
