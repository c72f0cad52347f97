package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
)

// VulkanBuffer is a host visible, coherent buffer. Slot buffers are written
// every frame, so they skip the staging copy.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   int
	Usage  vk.BufferUsageFlags
}

func allocateMemory(context *VulkanContext, requirements vk.MemoryRequirements, properties uint32) (vk.DeviceMemory, error) {
	index := context.FindMemoryIndex(requirements.MemoryTypeBits, properties)
	if index < 0 {
		err := fmt.Errorf("%w: no memory type with properties 0x%x", core.ErrResourceExhausted, properties)
		core.LogError(err.Error())
		return nil, err
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		if res == vk.ErrorOutOfDeviceMemory || res == vk.ErrorOutOfHostMemory {
			return nil, fmt.Errorf("%w: vkAllocateMemory: %v", core.ErrResourceExhausted, vk.Error(res))
		}
		return nil, vulkanError("vkAllocateMemory", res)
	}
	return memory, nil
}

func BufferCreate(context *VulkanContext, size int, usage vk.BufferUsageFlags) (*VulkanBuffer, error) {
	if size <= 0 {
		size = 4
	}
	buffer := &VulkanBuffer{Size: size, Usage: usage}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateBuffer", res)
	}
	buffer.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memory, err := allocateMemory(context, requirements, uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		buffer.Destroy(context)
		return nil, err
	}
	buffer.Memory = memory
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		buffer.Destroy(context)
		return nil, vulkanError("vkBindBufferMemory", res)
	}
	return buffer, nil
}

// LoadData copies data into the buffer at offset.
func (vb *VulkanBuffer) LoadData(context *VulkanContext, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset < 0 || offset+len(data) > vb.Size {
		return fmt.Errorf("write [%d, %d) out of range for %d bytes", offset, offset+len(data), vb.Size)
	}
	var mapped unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, vb.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		return vulkanError("vkMapMemory", res)
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(context.Device.LogicalDevice, vb.Memory)
	return nil
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	if vb.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vb.Memory, context.Allocator)
		vb.Memory = nil
	}
	if vb.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, vb.Handle, context.Allocator)
		vb.Handle = nil
	}
}
