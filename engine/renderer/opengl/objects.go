package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type glTexture struct {
	id uint32
}

type glBuffer struct {
	id     uint32
	target uint32
	size   int
}

type glMesh struct {
	vao uint32
	vbo uint32
	ebo uint32
}

type glPipeline struct {
	program  uint32
	cullMode metadata.FaceCullMode
	flags    metadata.PipelineFlags
}

type glFramebuffer struct {
	id uint32
}

// textureFormat returns internal format, pixel format and pixel type.
func textureFormat(f metadata.TextureFormat) (int32, uint32, uint32) {
	switch f {
	case metadata.TextureFormatR8:
		return gl.R8, gl.RED, gl.UNSIGNED_BYTE
	case metadata.TextureFormatRGBA16F:
		return gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT
	case metadata.TextureFormatDepth24Stencil8:
		return gl.DEPTH24_STENCIL8, gl.DEPTH_STENCIL, gl.UNSIGNED_INT_24_8
	default:
		return gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE
	}
}

func (b *Backend) TextureCreate(texture *metadata.Texture, pixels []uint8) error {
	internal, format, xtype := textureFormat(texture.Format)
	tex := &glTexture{}
	gl.GenTextures(1, &tex.id)
	gl.BindTexture(gl.TEXTURE_2D, tex.id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	if texture.Format == metadata.TextureFormatR8 {
		gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	}
	if len(pixels) > 0 {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(texture.Width), int32(texture.Height), 0, format, xtype, gl.Ptr(pixels))
	} else {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(texture.Width), int32(texture.Height), 0, format, xtype, nil)
	}
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if err := checkError("texture " + texture.String()); err != nil {
		gl.DeleteTextures(1, &tex.id)
		return err
	}
	texture.InternalData = tex
	return nil
}

func (b *Backend) TextureDestroy(texture *metadata.Texture) {
	if tex, ok := texture.InternalData.(*glTexture); ok {
		gl.DeleteTextures(1, &tex.id)
	}
	texture.InternalData = nil
}

func bufferTarget(usage metadata.BufferUsage) uint32 {
	switch usage {
	case metadata.BufferUsageVertex:
		return gl.ARRAY_BUFFER
	case metadata.BufferUsageIndex:
		return gl.ELEMENT_ARRAY_BUFFER
	default:
		// 3.3 core has no storage buffers, both kinds are uniform blocks
		return gl.UNIFORM_BUFFER
	}
}

func (b *Backend) BufferCreate(buffer *metadata.Buffer) error {
	buf := &glBuffer{target: bufferTarget(buffer.Usage)}
	gl.GenBuffers(1, &buf.id)
	if err := b.bufferData(buf, buffer.Slots.Storage()); err != nil {
		gl.DeleteBuffers(1, &buf.id)
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	buffer.InternalData = buf
	return nil
}

func (b *Backend) bufferData(buf *glBuffer, data []byte) error {
	gl.BindBuffer(buf.target, buf.id)
	gl.BufferData(buf.target, len(data), gl.Ptr(data), gl.DYNAMIC_DRAW)
	gl.BindBuffer(buf.target, 0)
	buf.size = len(data)
	return checkError("buffer data")
}

func (b *Backend) BufferUpload(buffer *metadata.Buffer, offset, size int) error {
	buf, ok := buffer.InternalData.(*glBuffer)
	if !ok {
		return fmt.Errorf("buffer %s has no native object", buffer.String())
	}
	if offset < 0 || size <= 0 || offset+size > buf.size {
		return fmt.Errorf("upload [%d, %d) out of range for buffer %s of %d bytes", offset, offset+size, buffer.String(), buf.size)
	}
	data := buffer.Slots.Storage()[offset : offset+size]
	gl.BindBuffer(buf.target, buf.id)
	gl.BufferSubData(buf.target, offset, size, gl.Ptr(data))
	gl.BindBuffer(buf.target, 0)
	return checkError("buffer upload " + buffer.String())
}

// BufferResize reallocates the data store in place: the GL name survives, so
// bindings made earlier stay valid.
func (b *Backend) BufferResize(buffer *metadata.Buffer) error {
	buf, ok := buffer.InternalData.(*glBuffer)
	if !ok {
		return fmt.Errorf("buffer %s has no native object", buffer.String())
	}
	if err := b.bufferData(buf, buffer.Slots.Storage()); err != nil {
		return fmt.Errorf("buffer %s: %w", buffer.String(), err)
	}
	return nil
}

func (b *Backend) BufferDestroy(buffer *metadata.Buffer) {
	if buf, ok := buffer.InternalData.(*glBuffer); ok {
		gl.DeleteBuffers(1, &buf.id)
	}
	buffer.InternalData = nil
}

func attributeType(f metadata.VertexFormat) (uint32, bool) {
	if f == metadata.VertexFormatUint8x4Norm {
		return gl.UNSIGNED_BYTE, true
	}
	return gl.FLOAT, false
}

func (b *Backend) MeshCreate(mesh *metadata.Mesh, vertices []uint8, indices []uint32) error {
	m := &glMesh{}
	gl.GenVertexArrays(1, &m.vao)
	gl.BindVertexArray(m.vao)

	gl.GenBuffers(1, &m.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices), gl.Ptr(vertices), gl.STATIC_DRAW)
	for _, attr := range mesh.Layout.Attributes {
		xtype, normalized := attributeType(attr.Format)
		gl.EnableVertexAttribArray(attr.Location)
		gl.VertexAttribPointer(attr.Location, attr.Format.Components(), xtype, normalized, int32(mesh.Layout.Stride), gl.PtrOffset(int(attr.Offset)))
	}
	if len(indices) > 0 {
		gl.GenBuffers(1, &m.ebo)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.ebo)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*4, gl.Ptr(indices), gl.STATIC_DRAW)
	}
	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)

	if err := checkError("mesh " + mesh.String()); err != nil {
		b.deleteMesh(m)
		return err
	}
	mesh.InternalData = m
	return nil
}

func (b *Backend) deleteMesh(m *glMesh) {
	if m.ebo != 0 {
		gl.DeleteBuffers(1, &m.ebo)
	}
	gl.DeleteBuffers(1, &m.vbo)
	gl.DeleteVertexArrays(1, &m.vao)
}

func (b *Backend) MeshDestroy(mesh *metadata.Mesh) {
	if m, ok := mesh.InternalData.(*glMesh); ok {
		b.deleteMesh(m)
	}
	mesh.InternalData = nil
}

func (b *Backend) PipelineCreate(pipeline *metadata.Pipeline, stages []metadata.ShaderSource) error {
	program, err := linkProgram(stages)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", pipeline.String(), err)
	}
	pipeline.InternalData = &glPipeline{
		program:  program,
		cullMode: pipeline.CullMode,
		flags:    pipeline.Flags,
	}
	return nil
}

func (b *Backend) PipelineDestroy(pipeline *metadata.Pipeline) {
	if p, ok := pipeline.InternalData.(*glPipeline); ok {
		if b.pipeline == p {
			b.pipeline = nil
		}
		gl.DeleteProgram(p.program)
	}
	pipeline.InternalData = nil
}

// RenderTargetCreate builds a framebuffer object over the attachments. The
// window target uses the default framebuffer and creates nothing.
func (b *Backend) RenderTargetCreate(target *metadata.RenderTarget) error {
	if target.Window {
		return nil
	}
	fb := &glFramebuffer{}
	gl.GenFramebuffers(1, &fb.id)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)

	drawBuffers := make([]uint32, 0, len(target.Colors))
	for i, color := range target.Colors {
		tex, ok := color.InternalData.(*glTexture)
		if !ok {
			gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
			gl.DeleteFramebuffers(1, &fb.id)
			return fmt.Errorf("color attachment %d has no native texture", i)
		}
		attachment := uint32(gl.COLOR_ATTACHMENT0 + i)
		gl.FramebufferTexture2D(gl.FRAMEBUFFER, attachment, gl.TEXTURE_2D, tex.id, 0)
		drawBuffers = append(drawBuffers, attachment)
	}
	if target.Depth != nil {
		if tex, ok := target.Depth.InternalData.(*glTexture); ok {
			gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.DEPTH_STENCIL_ATTACHMENT, gl.TEXTURE_2D, tex.id, 0)
		}
	}
	if len(drawBuffers) > 0 {
		gl.DrawBuffers(int32(len(drawBuffers)), &drawBuffers[0])
	} else {
		gl.DrawBuffer(gl.NONE)
	}

	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		gl.DeleteFramebuffers(1, &fb.id)
		return fmt.Errorf("framebuffer incomplete: 0x%x", status)
	}
	target.InternalFramebuffer = fb
	return nil
}

func (b *Backend) RenderTargetDestroy(target *metadata.RenderTarget) {
	if fb, ok := target.InternalFramebuffer.(*glFramebuffer); ok {
		gl.DeleteFramebuffers(1, &fb.id)
	}
	target.InternalFramebuffer = nil
}
