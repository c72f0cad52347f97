package vulkan

import (
	"fmt"
	"strings"

	vk "github.com/goki/vulkan"
)

// renderpassLayout is everything render pass compatibility depends on.
// Targets with the same layout share one VkRenderPass and one set of
// pipeline variants.
type renderpassLayout struct {
	Colors []vk.Format
	// Depth is FormatUndefined when the target has no depth attachment.
	Depth  vk.Format
	Window bool
}

func (l renderpassLayout) key() string {
	var sb strings.Builder
	for _, c := range l.Colors {
		fmt.Fprintf(&sb, "c%d.", c)
	}
	fmt.Fprintf(&sb, "d%d.w%t", l.Depth, l.Window)
	return sb.String()
}

func (l renderpassLayout) attachmentCount() int {
	n := len(l.Colors)
	if l.Depth != vk.FormatUndefined {
		n++
	}
	return n
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	Layout renderpassLayout
}

// RenderpassCreate builds a single subpass render pass. Offscreen attachments
// rest in shader read layouts between passes so the next stage can sample
// them; the window attachment ends ready to present.
func RenderpassCreate(context *VulkanContext, layout renderpassLayout) (*VulkanRenderpass, error) {
	attachments := make([]vk.AttachmentDescription, 0, layout.attachmentCount())
	colorRefs := make([]vk.AttachmentReference, 0, len(layout.Colors))

	for i, format := range layout.Colors {
		attachment := vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutShaderReadOnlyOptimal,
			FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
		}
		if layout.Window {
			// swapchain images carry nothing over between frames
			attachment.LoadOp = vk.AttachmentLoadOpClear
			attachment.InitialLayout = vk.ImageLayoutUndefined
			attachment.FinalLayout = vk.ImageLayoutPresentSrc
		}
		attachments = append(attachments, attachment)
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if layout.Depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         layout.Depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  vk.ImageLayoutDepthStencilReadOnlyOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilReadOnlyOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(layout.Colors)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	attachmentWrites := vk.AccessFlags(vk.AccessColorAttachmentWriteBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			// wait for earlier passes sampling or writing the attachments
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageLateFragmentTestsBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderReadBit) | attachmentWrites,
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | attachmentWrites,
		},
		{
			// later stages sample what this pass wrote
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageLateFragmentTestsBit),
			SrcAccessMask: attachmentWrites,
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		},
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, vulkanError("vkCreateRenderPass", res)
	}
	return &VulkanRenderpass{Handle: handle, Layout: layout}, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, framebuffer *VulkanFramebuffer) {
	clearValues := make([]vk.ClearValue, vr.Layout.attachmentCount())
	for i := range vr.Layout.Colors {
		clearValues[i].SetColor([]float32{0, 0, 0, 1})
	}
	if vr.Layout.Depth != vk.FormatUndefined {
		clearValues[len(clearValues)-1].SetDepthStencil(1.0, 0)
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer.Handle,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{
				Width:  framebuffer.Width,
				Height: framebuffer.Height,
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = CommandBufferStateInRenderPass
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = CommandBufferStateRecording
}
