package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	// View is the sampled view. Depth/stencil images get a second view
	// covering both aspects for use as an attachment.
	View           vk.ImageView
	AttachmentView vk.ImageView
	Sampler        vk.Sampler
	Format         vk.Format
	Aspect         vk.ImageAspectFlags
	// Layout the image rests in between passes.
	Layout vk.ImageLayout
	Width  uint32
	Height uint32
}

func vulkanTextureFormat(context *VulkanContext, f metadata.TextureFormat) vk.Format {
	switch f {
	case metadata.TextureFormatR8:
		return vk.FormatR8Unorm
	case metadata.TextureFormatRGBA16F:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.TextureFormatDepth24Stencil8:
		return context.Device.DepthFormat
	default:
		return vk.FormatR8g8b8a8Unorm
	}
}

// ImageCreate creates a 2D image with bound device memory, a view and a
// sampler. The image is left in the undefined layout.
func ImageCreate(context *VulkanContext, width, height uint32, format vk.Format, usage vk.ImageUsageFlags, aspect vk.ImageAspectFlags) (*VulkanImage, error) {
	image := &VulkanImage{
		Format: format,
		Aspect: aspect,
		Layout: vk.ImageLayoutUndefined,
		Width:  width,
		Height: height,
	}
	device := context.Device.LogicalDevice

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if res := vk.CreateImage(device, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateImage", res)
	}
	image.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &requirements)
	requirements.Deref()

	memory, err := allocateMemory(context, requirements, uint32(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.Memory = memory
	if res := vk.BindImageMemory(device, handle, memory, 0); res != vk.Success {
		image.Destroy(context)
		return nil, vulkanError("vkBindImageMemory", res)
	}

	view, err := imageViewCreate(context, handle, format, sampledAspect(aspect))
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.View = view
	image.AttachmentView = view
	if sampledAspect(aspect) != aspect {
		if image.AttachmentView, err = imageViewCreate(context, handle, format, aspect); err != nil {
			image.Destroy(context)
			return nil, err
		}
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(device, &samplerInfo, context.Allocator, &sampler); res != vk.Success {
		image.Destroy(context)
		return nil, vulkanError("vkCreateSampler", res)
	}
	image.Sampler = sampler
	return image, nil
}

// sampledAspect drops stencil: a sampled depth/stencil view may only carry one
// aspect.
func sampledAspect(aspect vk.ImageAspectFlags) vk.ImageAspectFlags {
	if aspect&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0 {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return aspect
}

func imageViewCreate(context *VulkanContext, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
		return nil, vulkanError("vkCreateImageView", res)
	}
	return view, nil
}

// TransitionLayout records a barrier moving the image to newLayout.
func (vi *VulkanImage) TransitionLayout(commandBuffer *VulkanCommandBuffer, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vi.Layout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               vi.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vi.Aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	srcStage := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	dstStage := vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	if vi.Layout == vk.ImageLayoutTransferDstOptimal {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	switch newLayout {
	case vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	default:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
	}

	vk.CmdPipelineBarrier(commandBuffer.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	vi.Layout = newLayout
}

// CopyFromBuffer copies tightly packed texels into the whole image, which
// must be in the transfer destination layout.
func (vi *VulkanImage) CopyFromBuffer(commandBuffer *VulkanCommandBuffer, buffer vk.Buffer) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vi.Aspect,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  vi.Width,
			Height: vi.Height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(commandBuffer.Handle, buffer, vi.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vi.Sampler != nil {
		vk.DestroySampler(device, vi.Sampler, context.Allocator)
		vi.Sampler = nil
	}
	if vi.AttachmentView != nil && vi.AttachmentView != vi.View {
		vk.DestroyImageView(device, vi.AttachmentView, context.Allocator)
	}
	vi.AttachmentView = nil
	if vi.View != nil {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = nil
	}
	if vi.Handle != nil {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
}
