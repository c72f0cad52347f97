package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// pendingFrame is a submission whose in-flight fence has not been observed
// signalled yet.
type pendingFrame struct {
	serial uint64
	slot   uint32
	fence  *metadata.Fence
}

// recordState is the state of the frame being recorded. It is only touched
// by the thread submitting commands.
type recordState struct {
	recording bool
	acquired  bool
	// skip drops the commands of a window subpass whose image could not be
	// acquired.
	skip bool

	renderpass  *VulkanRenderpass
	framebuffer *VulkanFramebuffer
	pipeline    *VulkanPipeline
	scissor     vk.Rect2D
}

func (b *Backend) SubmitNativeCommand(cmd metadata.Command) error {
	if _, ok := cmd.(metadata.Abort); ok {
		return b.abort()
	}
	if err := b.beginFrame(); err != nil {
		return err
	}
	if b.frame.skip {
		switch c := cmd.(type) {
		case metadata.EndSubpass:
			b.frame.skip = false
		case metadata.Execute:
			return b.execute(c)
		}
		return nil
	}

	cb := b.context.GraphicsCommandBuffers[b.context.CurrentFrame]
	switch c := cmd.(type) {
	case metadata.BeginSubpass:
		return b.beginSubpass(cb, c.Target)
	case metadata.EndSubpass:
		b.endSubpass(cb)
	case metadata.BindPipeline:
		return b.bindPipeline(cb, c.Pipeline)
	case metadata.SetViewport:
		vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{{
			X:        c.Rect.X,
			Y:        c.Rect.Y,
			Width:    c.Rect.Width,
			Height:   c.Rect.Height,
			MinDepth: 0.0,
			MaxDepth: 1.0,
		}})
	case metadata.SetScissor:
		b.frame.scissor = vk.Rect2D{
			Offset: vk.Offset2D{X: int32(max(c.Rect.X, 0)), Y: int32(max(c.Rect.Y, 0))},
			Extent: vk.Extent2D{Width: uint32(max(c.Rect.Width, 0)), Height: uint32(max(c.Rect.Height, 0))},
		}
		vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{b.frame.scissor})
	case metadata.Clear:
		return b.clear(cb, c)
	case metadata.Draw:
		return b.draw(cb, c)
	case metadata.Execute:
		return b.execute(c)
	default:
		return fmt.Errorf("unsupported command %s", cmd)
	}
	return nil
}

func (b *Backend) BindNativeResource(slot uint32, res metadata.NativeResource) error {
	if slot >= maxBindingSlots {
		return fmt.Errorf("%w: binding slot %d out of range [0, %d)", core.ErrInvalidUsage, slot, maxBindingSlots)
	}
	if err := b.beginFrame(); err != nil {
		return err
	}
	switch r := res.(type) {
	case *metadata.Texture:
		image, ok := r.InternalData.(*VulkanImage)
		if !ok {
			return fmt.Errorf("texture %s has no native object", r.String())
		}
		b.bindings.textures[slot] = image
	case *metadata.Buffer:
		buf, ok := r.InternalData.(*VulkanBuffer)
		if !ok {
			return fmt.Errorf("buffer %s has no native object", r.String())
		}
		switch r.Usage {
		case metadata.BufferUsageStorage:
			b.bindings.storages[slot] = buf
		case metadata.BufferUsageUniform:
			b.bindings.uniforms[slot] = buf
		default:
			return fmt.Errorf("%w: buffer %s cannot be bound to a shader slot", core.ErrInvalidUsage, r.String())
		}
	default:
		return fmt.Errorf("unsupported resource %T", res)
	}
	b.bindings.dirty = true
	return nil
}

// beginFrame waits for the frame slot to be free and starts recording into
// its command buffer. It runs on the first command after an Execute.
func (b *Backend) beginFrame() error {
	if b.frame.recording {
		return nil
	}
	context := b.context
	if context.FramebufferSizeGeneration != context.FramebufferSizeLastGeneration {
		if err := b.recreateSwapchain(); err != nil {
			return err
		}
	}

	slot := context.CurrentFrame
	if !context.InFlightFences[slot].FenceWait(context, math.MaxUint64) {
		return fmt.Errorf("%w: in-flight fence wait failed", core.ErrConstructionFailure)
	}
	b.pollFences()
	b.collectGarbage()

	if res := vk.ResetDescriptorPool(context.Device.LogicalDevice, b.descriptorPools[slot], 0); res != vk.Success {
		return vulkanError("vkResetDescriptorPool", res)
	}
	b.bindings.reset()

	cb := context.GraphicsCommandBuffers[slot]
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(false, false, false); err != nil {
		return err
	}
	b.frame = recordState{recording: true}
	return nil
}

func (b *Backend) beginSubpass(cb *VulkanCommandBuffer, target *metadata.RenderTarget) error {
	if target == nil {
		return fmt.Errorf("begin subpass without a target")
	}
	vt, ok := target.InternalFramebuffer.(*vulkanTarget)
	if !ok {
		return fmt.Errorf("render target has no framebuffer")
	}
	if b.frame.renderpass != nil {
		b.endSubpass(cb)
	}

	framebuffer := vt.framebuffers[0]
	if target.Window {
		context := b.context
		if !b.frame.acquired {
			index, ok, err := context.Swapchain.SwapchainAcquireNextImageIndex(context, math.MaxUint64, context.ImageAvailableSemaphores[context.CurrentFrame])
			if err != nil {
				return err
			}
			if !ok {
				core.LogDebug("swapchain out of date, skipping window subpass")
				context.FramebufferSizeGeneration++
				b.frame.skip = true
				return nil
			}
			context.ImageIndex = index
			b.frame.acquired = true
			// the image may still be used by an older frame
			if fence := context.ImagesInFlight[index]; fence != nil {
				fence.FenceWait(context, math.MaxUint64)
			}
		}
		if int(context.ImageIndex) >= len(vt.framebuffers) {
			return fmt.Errorf("window target has no framebuffer for image %d", context.ImageIndex)
		}
		framebuffer = vt.framebuffers[context.ImageIndex]
	}

	vt.renderpass.RenderpassBegin(cb, framebuffer)
	b.frame.renderpass = vt.renderpass
	b.frame.framebuffer = framebuffer
	b.frame.pipeline = nil

	b.frame.scissor = vk.Rect2D{Extent: vk.Extent2D{Width: framebuffer.Width, Height: framebuffer.Height}}
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{{
		Width:    float32(framebuffer.Width),
		Height:   float32(framebuffer.Height),
		MaxDepth: 1.0,
	}})
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{b.frame.scissor})
	return nil
}

func (b *Backend) endSubpass(cb *VulkanCommandBuffer) {
	if b.frame.renderpass == nil {
		return
	}
	b.frame.renderpass.RenderpassEnd(cb)
	b.frame.renderpass = nil
	b.frame.framebuffer = nil
	b.frame.pipeline = nil
}

func (b *Backend) bindPipeline(cb *VulkanCommandBuffer, pipeline *metadata.Pipeline) error {
	p, ok := pipeline.InternalData.(*VulkanPipeline)
	if !ok {
		return fmt.Errorf("pipeline %s has no native object", pipeline.String())
	}
	if b.frame.renderpass == nil {
		return fmt.Errorf("%w: pipeline %s bound outside a subpass", core.ErrInvalidUsage, pipeline.String())
	}
	handle, err := p.Variant(b.context, b.frame.renderpass)
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, handle)
	b.frame.pipeline = p
	b.bindings.dirty = true
	return nil
}

func (b *Backend) clear(cb *VulkanCommandBuffer, c metadata.Clear) error {
	rp := b.frame.renderpass
	if rp == nil {
		return fmt.Errorf("%w: clear outside a subpass", core.ErrInvalidUsage)
	}
	attachments := make([]vk.ClearAttachment, 0, rp.Layout.attachmentCount())
	for i := range rp.Layout.Colors {
		attachment := vk.ClearAttachment{
			AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
			ColorAttachment: uint32(i),
		}
		attachment.ClearValue.SetColor([]float32{c.Color.R, c.Color.G, c.Color.B, c.Color.A})
		attachments = append(attachments, attachment)
	}
	if c.DepthStencil && rp.Layout.Depth != vk.FormatUndefined {
		attachment := vk.ClearAttachment{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit),
		}
		attachment.ClearValue.SetDepthStencil(c.Depth, c.Stencil)
		attachments = append(attachments, attachment)
	}
	if len(attachments) == 0 || b.frame.scissor.Extent.Width == 0 || b.frame.scissor.Extent.Height == 0 {
		return nil
	}
	rect := vk.ClearRect{Rect: b.frame.scissor, LayerCount: 1}
	vk.CmdClearAttachments(cb.Handle, uint32(len(attachments)), attachments, 1, []vk.ClearRect{rect})
	return nil
}

func (b *Backend) draw(cb *VulkanCommandBuffer, c metadata.Draw) error {
	mesh, ok := c.Mesh.InternalData.(*vulkanMesh)
	if !ok {
		return fmt.Errorf("mesh %s has no native object", c.Mesh.String())
	}
	p := b.frame.pipeline
	if p == nil {
		return fmt.Errorf("%w: draw without a bound pipeline", core.ErrInvalidUsage)
	}
	if b.bindings.dirty {
		sets, err := b.bindings.allocateSets(b.context, b.descriptorPools[b.context.CurrentFrame], b.descriptorLayouts, b.defaultTexture, b.defaultBuffer)
		if err != nil {
			return err
		}
		vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, p.PipelineLayout, 0, uint32(len(sets)), sets, 0, nil)
	}

	vk.CmdBindVertexBuffers(cb.Handle, 0, 1, []vk.Buffer{mesh.vertex.Handle}, []vk.DeviceSize{0})
	if c.Mesh.Indexed() && mesh.index != nil {
		vk.CmdBindIndexBuffer(cb.Handle, mesh.index.Handle, 0, vk.IndexTypeUint32)
		vk.CmdDrawIndexed(cb.Handle, c.Count, 1, c.First, 0, 0)
		return nil
	}
	vk.CmdDraw(cb.Handle, c.Count, 1, c.First, 0)
	return nil
}

// execute ends recording, submits the frame and presents it when asked to.
// The metadata fence is signalled once the frame's in-flight fence is seen
// signalled.
func (b *Backend) execute(c metadata.Execute) error {
	context := b.context
	slot := context.CurrentFrame
	cb := context.GraphicsCommandBuffers[slot]
	b.endSubpass(cb)
	acquired := b.frame.acquired
	b.frame = recordState{}

	if err := cb.End(); err != nil {
		return err
	}
	b.pollFences()

	inFlight := context.InFlightFences[slot]
	if err := inFlight.FenceReset(context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if acquired {
		// wait for the image before writing color, signal when done so
		// present can wait on it
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{context.ImageAvailableSemaphores[slot]}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{context.QueueCompleteSemaphores[slot]}
		context.ImagesInFlight[context.ImageIndex] = inFlight
	}

	err := context.locks.SafeQueueCall(uint32(context.Device.GraphicsQueueIndex), func() error {
		if res := vk.QueueSubmit(context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, inFlight.Handle); res != vk.Success {
			return vulkanError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		// nothing will signal the fence, don't wait on it again
		inFlight.IsSignaled = true
		if c.Fence != nil {
			c.Fence.Signal()
		}
		return err
	}
	cb.UpdateSubmitted()

	serial := b.submitted.Add(1)
	b.pending = append(b.pending, pendingFrame{serial: serial, slot: slot, fence: c.Fence})

	if acquired && c.Present {
		ok, err := context.Swapchain.SwapchainPresent(context, context.Device.PresentQueue, context.QueueCompleteSemaphores[slot], context.ImageIndex)
		if err != nil {
			return err
		}
		if !ok {
			context.FramebufferSizeGeneration++
		}
	}
	context.CurrentFrame = (slot + 1) % uint32(context.Swapchain.MaxFramesInFlight)
	return nil
}

// abort closes the frame being recorded. An acquired image still has to be
// presented, so the partial recording is submitted without a user fence.
func (b *Backend) abort() error {
	if !b.frame.recording {
		return nil
	}
	return b.execute(metadata.Execute{Present: b.frame.acquired})
}

// pollFences signals the metadata fences of completed frames. Frames on one
// queue complete in order, so the scan stops at the first busy one.
func (b *Backend) pollFences() {
	n := 0
	for i, p := range b.pending {
		if !b.context.InFlightFences[p.slot].FenceStatus(b.context) {
			n = i
			break
		}
		if p.fence != nil {
			p.fence.Signal()
		}
		b.completed.Store(p.serial)
		n = i + 1
	}
	b.pending = append(b.pending[:0], b.pending[n:]...)
}
