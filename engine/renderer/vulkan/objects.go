package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type vulkanMesh struct {
	vertex *VulkanBuffer
	index  *VulkanBuffer
}

// vulkanTarget is the InternalFramebuffer of a render target. Window targets
// hold one framebuffer per swapchain image.
type vulkanTarget struct {
	renderpass   *VulkanRenderpass
	framebuffers []*VulkanFramebuffer
	depth        *VulkanImage
	width        uint32
	height       uint32
}

func (t *vulkanTarget) destroyFramebuffers(context *VulkanContext) {
	for _, fb := range t.framebuffers {
		fb.Destroy(context)
	}
	t.framebuffers = nil
}

func (b *Backend) TextureCreate(texture *metadata.Texture, pixels []uint8) error {
	format := vulkanTextureFormat(b.context, texture.Format)
	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit)
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	restLayout := vk.ImageLayoutShaderReadOnlyOptimal
	attachment := texture.Flags&metadata.TextureFlagIsAttachment != 0
	if texture.Format.IsDepth() {
		usage = vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageDepthStencilAttachmentBit)
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
		restLayout = vk.ImageLayoutDepthStencilReadOnlyOptimal
	} else if attachment {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}

	image, err := ImageCreate(b.context, texture.Width, texture.Height, format, usage, aspect)
	if err != nil {
		return fmt.Errorf("texture %s: %w", texture.String(), err)
	}

	var staging *VulkanBuffer
	if len(pixels) > 0 && !texture.Format.IsDepth() {
		staging, err = BufferCreate(b.context, len(pixels), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
		if err != nil {
			image.Destroy(b.context)
			return fmt.Errorf("texture %s: %w", texture.String(), err)
		}
		defer staging.Destroy(b.context)
		if err := staging.LoadData(b.context, 0, pixels); err != nil {
			image.Destroy(b.context)
			return fmt.Errorf("texture %s: %w", texture.String(), err)
		}
	}

	err = SingleUse(b.context, func(cb *VulkanCommandBuffer) {
		if staging != nil {
			image.TransitionLayout(cb, vk.ImageLayoutTransferDstOptimal)
			image.CopyFromBuffer(cb, staging.Handle)
		}
		image.TransitionLayout(cb, restLayout)
	})
	if err != nil {
		image.Destroy(b.context)
		return fmt.Errorf("texture %s: %w", texture.String(), err)
	}
	texture.InternalData = image
	return nil
}

func (b *Backend) TextureDestroy(texture *metadata.Texture) {
	if image, ok := texture.InternalData.(*VulkanImage); ok {
		b.deferDestroy(func() { image.Destroy(b.context) })
	}
	texture.InternalData = nil
}

func bufferUsage(usage metadata.BufferUsage) vk.BufferUsageFlags {
	switch usage {
	case metadata.BufferUsageStorage:
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	case metadata.BufferUsageVertex:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case metadata.BufferUsageIndex:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	default:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
}

func (b *Backend) BufferCreate(buffer *metadata.Buffer) error {
	storage := buffer.Slots.Storage()
	buf, err := BufferCreate(b.context, len(storage), bufferUsage(buffer.Usage))
	if err != nil {
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	if err := buf.LoadData(b.context, 0, storage); err != nil {
		buf.Destroy(b.context)
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	buffer.InternalData = buf
	return nil
}

func (b *Backend) BufferUpload(buffer *metadata.Buffer, offset, size int) error {
	buf, ok := buffer.InternalData.(*VulkanBuffer)
	if !ok {
		return fmt.Errorf("buffer %s has no native object", buffer.String())
	}
	storage := buffer.Slots.Storage()
	if offset < 0 || size <= 0 || offset+size > len(storage) {
		return fmt.Errorf("upload [%d, %d) out of range for buffer %s", offset, offset+size, buffer.String())
	}
	if err := buf.LoadData(b.context, offset, storage[offset:offset+size]); err != nil {
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	return nil
}

// BufferResize creates a buffer of the new size and retires the old one once
// the frames using it have completed.
func (b *Backend) BufferResize(buffer *metadata.Buffer) error {
	old, ok := buffer.InternalData.(*VulkanBuffer)
	if !ok {
		return fmt.Errorf("buffer %s has no native object", buffer.String())
	}
	storage := buffer.Slots.Storage()
	buf, err := BufferCreate(b.context, len(storage), old.Usage)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	if err := buf.LoadData(b.context, 0, storage); err != nil {
		buf.Destroy(b.context)
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	buffer.InternalData = buf
	b.deferDestroy(func() { old.Destroy(b.context) })
	return nil
}

func (b *Backend) BufferDestroy(buffer *metadata.Buffer) {
	if buf, ok := buffer.InternalData.(*VulkanBuffer); ok {
		b.deferDestroy(func() { buf.Destroy(b.context) })
	}
	buffer.InternalData = nil
}

func (b *Backend) MeshCreate(mesh *metadata.Mesh, vertices []uint8, indices []uint32) error {
	m := &vulkanMesh{}
	var err error
	if m.vertex, err = BufferCreate(b.context, len(vertices), vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)); err != nil {
		return fmt.Errorf("mesh %s: %w", mesh.String(), err)
	}
	if err := m.vertex.LoadData(b.context, 0, vertices); err != nil {
		m.destroy(b.context)
		return fmt.Errorf("mesh %s: %w", mesh.String(), err)
	}
	if len(indices) > 0 {
		if m.index, err = BufferCreate(b.context, len(indices)*4, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)); err != nil {
			m.destroy(b.context)
			return fmt.Errorf("mesh %s: %w", mesh.String(), err)
		}
		data := make([]byte, len(indices)*4)
		for i, index := range indices {
			data[i*4] = byte(index)
			data[i*4+1] = byte(index >> 8)
			data[i*4+2] = byte(index >> 16)
			data[i*4+3] = byte(index >> 24)
		}
		if err := m.index.LoadData(b.context, 0, data); err != nil {
			m.destroy(b.context)
			return fmt.Errorf("mesh %s: %w", mesh.String(), err)
		}
	}
	mesh.InternalData = m
	return nil
}

func (m *vulkanMesh) destroy(context *VulkanContext) {
	if m.vertex != nil {
		m.vertex.Destroy(context)
	}
	if m.index != nil {
		m.index.Destroy(context)
	}
}

func (b *Backend) MeshDestroy(mesh *metadata.Mesh) {
	if m, ok := mesh.InternalData.(*vulkanMesh); ok {
		b.deferDestroy(func() { m.destroy(b.context) })
	}
	mesh.InternalData = nil
}

func (b *Backend) PipelineCreate(pipeline *metadata.Pipeline, stages []metadata.ShaderSource) error {
	p, err := NewGraphicsPipeline(b.context, b.descriptorLayouts, VulkanPipelineConfig{
		Layout:   pipeline.Layout,
		CullMode: pipeline.CullMode,
		Flags:    pipeline.Flags,
	}, stages)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", pipeline.String(), err)
	}
	pipeline.InternalData = p
	return nil
}

func (b *Backend) PipelineDestroy(pipeline *metadata.Pipeline) {
	if p, ok := pipeline.InternalData.(*VulkanPipeline); ok {
		b.deferDestroy(func() { p.Destroy(b.context) })
	}
	pipeline.InternalData = nil
}

func (b *Backend) targetLayout(target *metadata.RenderTarget) renderpassLayout {
	layout := renderpassLayout{Window: target.Window, Depth: vk.FormatUndefined}
	if target.Window {
		layout.Colors = []vk.Format{b.context.Swapchain.ImageFormat.Format}
	}
	for _, color := range target.Colors {
		layout.Colors = append(layout.Colors, vulkanTextureFormat(b.context, color.Format))
	}
	if target.Depth != nil {
		layout.Depth = b.context.Device.DepthFormat
	}
	return layout
}

// renderpassFor returns the shared render pass for layout.
func (b *Backend) renderpassFor(layout renderpassLayout) (*VulkanRenderpass, error) {
	var rp *VulkanRenderpass
	err := b.context.locks.SafeCall(RenderpassManagement, func() error {
		key := layout.key()
		if cached, ok := b.renderpasses[key]; ok {
			rp = cached
			return nil
		}
		created, err := RenderpassCreate(b.context, layout)
		if err != nil {
			return err
		}
		b.renderpasses[key] = created
		rp = created
		return nil
	})
	return rp, err
}

func (b *Backend) RenderTargetCreate(target *metadata.RenderTarget) error {
	rp, err := b.renderpassFor(b.targetLayout(target))
	if err != nil {
		return err
	}
	vt := &vulkanTarget{
		renderpass: rp,
		width:      target.Width,
		height:     target.Height,
	}
	if target.Depth != nil {
		depth, ok := target.Depth.InternalData.(*VulkanImage)
		if !ok {
			return fmt.Errorf("depth attachment has no native image")
		}
		vt.depth = depth
	}

	if target.Window {
		if err := b.buildWindowFramebuffers(vt); err != nil {
			return err
		}
		b.windowTargetsMu.Lock()
		b.windowTargets[vt] = struct{}{}
		b.windowTargetsMu.Unlock()
		target.InternalFramebuffer = vt
		return nil
	}

	views := make([]vk.ImageView, 0, len(target.Colors)+1)
	for i, color := range target.Colors {
		image, ok := color.InternalData.(*VulkanImage)
		if !ok {
			return fmt.Errorf("color attachment %d has no native image", i)
		}
		views = append(views, image.AttachmentView)
	}
	if vt.depth != nil {
		views = append(views, vt.depth.AttachmentView)
	}
	fb, err := FramebufferCreate(b.context, rp, target.Width, target.Height, views)
	if err != nil {
		return err
	}
	vt.framebuffers = []*VulkanFramebuffer{fb}
	target.InternalFramebuffer = vt
	return nil
}

// buildWindowFramebuffers creates one framebuffer per swapchain image. The
// size is clamped to the swapchain and depth extents, which lag behind the
// window while a resize settles.
func (b *Backend) buildWindowFramebuffers(vt *vulkanTarget) error {
	swapchain := b.context.Swapchain
	width, height := swapchain.Extent.Width, swapchain.Extent.Height
	if vt.depth != nil {
		width = min(width, vt.depth.Width)
		height = min(height, vt.depth.Height)
	}
	vt.destroyFramebuffers(b.context)
	for _, view := range swapchain.Views {
		views := []vk.ImageView{view}
		if vt.depth != nil {
			views = append(views, vt.depth.AttachmentView)
		}
		fb, err := FramebufferCreate(b.context, vt.renderpass, width, height, views)
		if err != nil {
			vt.destroyFramebuffers(b.context)
			return err
		}
		vt.framebuffers = append(vt.framebuffers, fb)
	}
	return nil
}

func (b *Backend) RenderTargetDestroy(target *metadata.RenderTarget) {
	vt, ok := target.InternalFramebuffer.(*vulkanTarget)
	if !ok {
		return
	}
	if target.Window {
		b.windowTargetsMu.Lock()
		delete(b.windowTargets, vt)
		b.windowTargetsMu.Unlock()
	}
	b.deferDestroy(func() { vt.destroyFramebuffers(b.context) })
	target.InternalFramebuffer = nil
}
