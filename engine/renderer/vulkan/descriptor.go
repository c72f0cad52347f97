package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Binding slots are shared by every resource kind. Each kind lives in its own
// descriptor set, so a shader declares layout(set = N, binding = slot):
// set 0 holds uniform buffers, set 1 combined image samplers and set 2
// storage buffers.
const (
	maxBindingSlots = 8

	setUniform = 0
	setSampler = 1
	setStorage = 2
	setCount   = 3

	// sets allocated from one frame's pool before it runs dry
	maxDescriptorSetsPerFrame = 1024
)

var setDescriptorTypes = [setCount]vk.DescriptorType{
	setUniform: vk.DescriptorTypeUniformBuffer,
	setSampler: vk.DescriptorTypeCombinedImageSampler,
	setStorage: vk.DescriptorTypeStorageBuffer,
}

type descriptorLayouts [setCount]vk.DescriptorSetLayout

func createDescriptorLayouts(context *VulkanContext) (descriptorLayouts, error) {
	var layouts descriptorLayouts
	stages := vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	for set, descriptorType := range setDescriptorTypes {
		bindings := make([]vk.DescriptorSetLayoutBinding, maxBindingSlots)
		for i := range bindings {
			bindings[i] = vk.DescriptorSetLayoutBinding{
				Binding:         uint32(i),
				DescriptorType:  descriptorType,
				DescriptorCount: 1,
				StageFlags:      stages,
			}
		}
		createInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		var layout vk.DescriptorSetLayout
		if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout); res != vk.Success {
			layouts.destroy(context)
			return layouts, vulkanError("vkCreateDescriptorSetLayout", res)
		}
		layouts[set] = layout
	}
	return layouts, nil
}

func (l *descriptorLayouts) destroy(context *VulkanContext) {
	for i := range l {
		if l[i] != nil {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l[i], context.Allocator)
			l[i] = nil
		}
	}
}

func createDescriptorPool(context *VulkanContext) (vk.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, 0, setCount)
	for _, descriptorType := range setDescriptorTypes {
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            descriptorType,
			DescriptorCount: maxBindingSlots * maxDescriptorSetsPerFrame,
		})
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       setCount * maxDescriptorSetsPerFrame,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &pool); res != vk.Success {
		return nil, vulkanError("vkCreateDescriptorPool", res)
	}
	return pool, nil
}

// bindingTable holds what was bound to each slot since the frame started.
// Empty slots fall back to the defaults so every declared binding is valid.
type bindingTable struct {
	textures [maxBindingSlots]*VulkanImage
	uniforms [maxBindingSlots]*VulkanBuffer
	storages [maxBindingSlots]*VulkanBuffer
	dirty    bool
}

func (t *bindingTable) reset() {
	*t = bindingTable{dirty: true}
}

// allocateSets writes the table into fresh sets from pool.
func (t *bindingTable) allocateSets(context *VulkanContext, pool vk.DescriptorPool, layouts descriptorLayouts, defaultTexture *VulkanImage, defaultBuffer *VulkanBuffer) ([]vk.DescriptorSet, error) {
	sets := make([]vk.DescriptorSet, setCount)
	for i := range sets {
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layouts[i]},
		}
		var set vk.DescriptorSet
		if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &set); res != vk.Success {
			if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
				return nil, fmt.Errorf("more than %d draws with new bindings in one frame", maxDescriptorSetsPerFrame)
			}
			return nil, vulkanError("vkAllocateDescriptorSets", res)
		}
		sets[i] = set
	}

	writes := make([]vk.WriteDescriptorSet, 0, setCount*maxBindingSlots)
	for slot := 0; slot < maxBindingSlots; slot++ {
		tex := t.textures[slot]
		if tex == nil {
			tex = defaultTexture
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[setSampler],
			DstBinding:      uint32(slot),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     tex.Sampler,
				ImageView:   tex.View,
				ImageLayout: tex.Layout,
			}},
		})
		for _, entry := range []struct {
			set    int
			buffer *VulkanBuffer
		}{{setUniform, t.uniforms[slot]}, {setStorage, t.storages[slot]}} {
			buf := entry.buffer
			if buf == nil {
				buf = defaultBuffer
			}
			writes = append(writes, vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[entry.set],
				DstBinding:      uint32(slot),
				DescriptorCount: 1,
				DescriptorType:  setDescriptorTypes[entry.set],
				PBufferInfo: []vk.DescriptorBufferInfo{{
					Buffer: buf.Handle,
					Range:  vk.DeviceSize(vk.WholeSize),
				}},
			})
		}
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	t.dirty = false
	return sets, nil
}
