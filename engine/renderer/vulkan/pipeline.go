package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// VulkanPipeline holds the shader modules and layout of a pipeline. The
// VkPipeline objects themselves depend on the render pass they draw into and
// are built the first time the pipeline is bound inside a compatible pass.
type VulkanPipeline struct {
	Stages         []*VulkanShaderStage
	PipelineLayout vk.PipelineLayout

	config   VulkanPipelineConfig
	variants map[string]vk.Pipeline
}

type VulkanPipelineConfig struct {
	Layout   metadata.VertexLayout
	CullMode metadata.FaceCullMode
	Flags    metadata.PipelineFlags
}

func vertexFormat(f metadata.VertexFormat) vk.Format {
	switch f {
	case metadata.VertexFormatFloat32:
		return vk.FormatR32Sfloat
	case metadata.VertexFormatFloat32x2:
		return vk.FormatR32g32Sfloat
	case metadata.VertexFormatFloat32x3:
		return vk.FormatR32g32b32Sfloat
	case metadata.VertexFormatUint8x4Norm:
		return vk.FormatR8g8b8a8Unorm
	default:
		return vk.FormatR32g32b32a32Sfloat
	}
}

func NewGraphicsPipeline(context *VulkanContext, layouts descriptorLayouts, config VulkanPipelineConfig, sources []metadata.ShaderSource) (*VulkanPipeline, error) {
	pipeline := &VulkanPipeline{
		config:   config,
		variants: make(map[string]vk.Pipeline),
	}
	for _, source := range sources {
		if source.Stage == metadata.ShaderStageCompute {
			pipeline.Destroy(context)
			return nil, fmt.Errorf("compute stage %s in a graphics pipeline", source.Path)
		}
		stage, err := NewShaderModule(context, source)
		if err != nil {
			pipeline.Destroy(context)
			return nil, err
		}
		pipeline.Stages = append(pipeline.Stages, stage)
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts[:],
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &layoutCreateInfo, context.Allocator, &pipelineLayout); res != vk.Success {
		pipeline.Destroy(context)
		return nil, vulkanError("vkCreatePipelineLayout", res)
	}
	pipeline.PipelineLayout = pipelineLayout
	return pipeline, nil
}

// Variant returns the VkPipeline compatible with renderpass, building it on
// first use.
func (pipeline *VulkanPipeline) Variant(context *VulkanContext, renderpass *VulkanRenderpass) (vk.Pipeline, error) {
	var handle vk.Pipeline
	err := context.locks.SafeCall(PipelineManagement, func() error {
		key := renderpass.Layout.key()
		if h, ok := pipeline.variants[key]; ok {
			handle = h
			return nil
		}
		h, err := pipeline.build(context, renderpass)
		if err != nil {
			return err
		}
		pipeline.variants[key] = h
		handle = h
		return nil
	})
	return handle, err
}

func (pipeline *VulkanPipeline) build(context *VulkanContext, renderpass *VulkanRenderpass) (vk.Pipeline, error) {
	config := pipeline.config

	// Viewport and scissor are dynamic, the values here are placeholders.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{{Width: 1, Height: 1, MaxDepth: 1}},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{{Extent: vk.Extent2D{Width: 1, Height: 1}}},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	if config.Flags&metadata.PipelineFlagWireframe != 0 {
		if context.Device.Features.FillModeNonSolid == vk.True {
			rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
		} else {
			core.LogWarn("wireframe requested but fillModeNonSolid is not supported, drawing filled")
		}
	}
	switch config.CullMode {
	case metadata.FaceCullModeNone:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case metadata.FaceCullModeFront:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeFrontAndBack:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpLess,
	}
	if config.Flags&metadata.PipelineFlagDepthTest != 0 {
		depthStencil.DepthTestEnable = vk.True
	}
	if config.Flags&metadata.PipelineFlagDepthWrite != 0 {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if config.Flags&metadata.PipelineFlagBlend != 0 {
		colorBlendAttachmentState.BlendEnable = vk.True
	}
	// one blend state per color attachment of the pass
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(renderpass.Layout.Colors))
	for i := range blendAttachments {
		blendAttachments[i] = colorBlendAttachmentState
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(config.Layout.Attributes))
	for i, attr := range config.Layout.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: attr.Location,
			Binding:  0,
			Format:   vertexFormat(attr.Format),
			Offset:   attr.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	if config.Layout.Stride > 0 {
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    config.Layout.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(pipeline.Stages))
	for i, stage := range pipeline.Stages {
		stages[i] = stage.ShaderStageCreateInfo
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              pipeline.PipelineLayout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines); res != vk.Success {
		return nil, vulkanError("vkCreateGraphicsPipelines", res)
	}
	core.LogDebug("Graphics pipeline variant created for %s.", renderpass.Layout.key())
	return pipelines[0], nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		for key, handle := range pipeline.variants {
			vk.DestroyPipeline(context.Device.LogicalDevice, handle, context.Allocator)
			delete(pipeline.variants, key)
		}
		return nil
	})
	if pipeline.PipelineLayout != nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
		pipeline.PipelineLayout = nil
	}
	for _, stage := range pipeline.Stages {
		stage.Destroy(context)
	}
	pipeline.Stages = nil
}
