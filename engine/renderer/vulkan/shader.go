package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

const spirvMagic = 0x07230203

// VulkanShaderStage is a compiled module and the stage info that uses it.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func shaderStageFlag(stage metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch stage {
	case metadata.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	default:
		return vk.ShaderStageVertexBit
	}
}

// NewShaderModule creates a module from the SPIR-V words of source.
func NewShaderModule(context *VulkanContext, source metadata.ShaderSource) (*VulkanShaderStage, error) {
	if len(source.Code)%4 != 0 {
		return nil, fmt.Errorf("%s stage %s: SPIR-V size %d is not a multiple of 4", source.Stage, source.Path, len(source.Code))
	}
	code := loaders.BytesToBytecode(source.Code)
	if len(code) == 0 || code[0] != spirvMagic {
		return nil, fmt.Errorf("%s stage %s is not SPIR-V", source.Stage, source.Path)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(source.Code)),
		PCode:    code,
	}
	var handle vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateShaderModule", res)
	}

	return &VulkanShaderStage{
		Handle: handle,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  shaderStageFlag(source.Stage),
			Module: handle,
			PName:  VulkanSafeString("main"),
		},
	}, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}
