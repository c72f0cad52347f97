// Package opengl implements the renderer backend on an OpenGL 3.3 core
// context. Every call must happen on the thread the context is current on.
package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Surface is the window the backend presents to.
type Surface interface {
	SwapBuffers()
	FramebufferSize() (uint32, uint32)
}

type pendingFence struct {
	sync  uintptr
	fence *metadata.Fence
}

type Backend struct {
	surface Surface

	width  uint32
	height uint32

	// state of the subpass being recorded
	target   *metadata.RenderTarget
	pipeline *glPipeline

	pending []pendingFence
}

func New(surface Surface) *Backend {
	return &Backend{surface: surface}
}

func (b *Backend) Name() string {
	return "opengl"
}

// Multithreaded is false: a GL context belongs to one thread.
func (b *Backend) Multithreaded() bool {
	return false
}

func (b *Backend) Initialize(config metadata.RendererBackendConfig) error {
	if err := gl.Init(); err != nil {
		return fmt.Errorf("gl.Init: %w", err)
	}
	b.width, b.height = config.FramebufferWidth, config.FramebufferHeight
	if b.surface != nil {
		if w, h := b.surface.FramebufferSize(); w > 0 && h > 0 {
			b.width, b.height = w, h
		}
	}

	gl.Enable(gl.SCISSOR_TEST)
	gl.Disable(gl.DEPTH_TEST)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)

	core.LogInfo("OpenGL %s on %s", gl.GoStr(gl.GetString(gl.VERSION)), gl.GoStr(gl.GetString(gl.RENDERER)))
	return nil
}

func (b *Backend) Shutdown() error {
	for _, p := range b.pending {
		gl.DeleteSync(p.sync)
		p.fence.Signal()
	}
	b.pending = nil
	gl.Finish()
	return nil
}

func (b *Backend) Resized(width, height uint32) error {
	b.width, b.height = width, height
	return nil
}

func (b *Backend) FramebufferSize() (uint32, uint32) {
	return b.width, b.height
}

func (b *Backend) SubmitNativeCommand(cmd metadata.Command) error {
	b.pollFences()

	switch c := cmd.(type) {
	case metadata.BeginSubpass:
		return b.beginSubpass(c.Target)
	case metadata.EndSubpass:
		b.pipeline = nil
		return nil
	case metadata.BindPipeline:
		return b.bindPipeline(c.Pipeline)
	case metadata.SetViewport:
		x, y, w, h := b.glRect(c.Rect.X, c.Rect.Y, c.Rect.Width, c.Rect.Height)
		gl.Viewport(x, y, w, h)
	case metadata.SetScissor:
		x, y, w, h := b.glRect(c.Rect.X, c.Rect.Y, c.Rect.Width, c.Rect.Height)
		gl.Scissor(x, y, w, h)
	case metadata.Clear:
		b.clear(c)
	case metadata.Draw:
		return b.draw(c)
	case metadata.Execute:
		b.execute(c)
	case metadata.Abort:
		b.target = nil
		b.pipeline = nil
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	default:
		return fmt.Errorf("unsupported command %s", cmd)
	}
	return checkError(cmd.String())
}

func (b *Backend) BindNativeResource(slot uint32, res metadata.NativeResource) error {
	switch r := res.(type) {
	case *metadata.Texture:
		tex, ok := r.InternalData.(*glTexture)
		if !ok {
			return fmt.Errorf("texture %s has no native object", r.String())
		}
		gl.ActiveTexture(gl.TEXTURE0 + slot)
		gl.BindTexture(gl.TEXTURE_2D, tex.id)
	case *metadata.Buffer:
		buf, ok := r.InternalData.(*glBuffer)
		if !ok {
			return fmt.Errorf("buffer %s has no native object", r.String())
		}
		switch buf.target {
		case gl.UNIFORM_BUFFER:
			gl.BindBufferBase(gl.UNIFORM_BUFFER, slot, buf.id)
		default:
			gl.BindBuffer(buf.target, buf.id)
		}
	default:
		return fmt.Errorf("unsupported resource %T", res)
	}
	return checkError(fmt.Sprintf("bind slot %d", slot))
}

func (b *Backend) beginSubpass(target *metadata.RenderTarget) error {
	if target == nil {
		return fmt.Errorf("begin subpass without a target")
	}
	b.target = target
	if target.Window {
		gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
		return nil
	}
	fb, ok := target.InternalFramebuffer.(*glFramebuffer)
	if !ok {
		return fmt.Errorf("render target has no framebuffer")
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb.id)
	return nil
}

func (b *Backend) bindPipeline(pipeline *metadata.Pipeline) error {
	p, ok := pipeline.InternalData.(*glPipeline)
	if !ok {
		return fmt.Errorf("pipeline %s has no native object", pipeline.String())
	}
	gl.UseProgram(p.program)

	switch p.cullMode {
	case metadata.FaceCullModeNone:
		gl.Disable(gl.CULL_FACE)
	case metadata.FaceCullModeFront:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.FRONT)
	case metadata.FaceCullModeBack:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.BACK)
	case metadata.FaceCullModeFrontAndBack:
		gl.Enable(gl.CULL_FACE)
		gl.CullFace(gl.FRONT_AND_BACK)
	}
	if p.flags&metadata.PipelineFlagDepthTest != 0 {
		gl.Enable(gl.DEPTH_TEST)
	} else {
		gl.Disable(gl.DEPTH_TEST)
	}
	gl.DepthMask(p.flags&metadata.PipelineFlagDepthWrite != 0)
	if p.flags&metadata.PipelineFlagBlend != 0 {
		gl.Enable(gl.BLEND)
	} else {
		gl.Disable(gl.BLEND)
	}
	if p.flags&metadata.PipelineFlagWireframe != 0 {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
	} else {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	}
	b.pipeline = p
	return nil
}

func (b *Backend) clear(c metadata.Clear) {
	gl.ClearColor(c.Color.R, c.Color.G, c.Color.B, c.Color.A)
	mask := uint32(gl.COLOR_BUFFER_BIT)
	if c.DepthStencil {
		// a depth write disabled by the pipeline would mask the clear
		gl.DepthMask(true)
		gl.ClearDepth(float64(c.Depth))
		gl.ClearStencil(int32(c.Stencil))
		mask |= gl.DEPTH_BUFFER_BIT | gl.STENCIL_BUFFER_BIT
	}
	gl.Clear(mask)
	if b.pipeline != nil {
		gl.DepthMask(b.pipeline.flags&metadata.PipelineFlagDepthWrite != 0)
	}
}

func (b *Backend) draw(c metadata.Draw) error {
	mesh, ok := c.Mesh.InternalData.(*glMesh)
	if !ok {
		return fmt.Errorf("mesh %s has no native object", c.Mesh.String())
	}
	gl.BindVertexArray(mesh.vao)
	if c.Mesh.Indexed() {
		gl.DrawElements(gl.TRIANGLES, int32(c.Count), gl.UNSIGNED_INT, gl.PtrOffset(int(c.First)*4))
	} else {
		gl.DrawArrays(gl.TRIANGLES, int32(c.First), int32(c.Count))
	}
	gl.BindVertexArray(0)
	return checkError(c.String())
}

func (b *Backend) execute(c metadata.Execute) {
	b.target = nil
	b.pipeline = nil
	gl.Flush()
	if c.Fence != nil {
		b.pending = append(b.pending, pendingFence{
			sync:  gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0),
			fence: c.Fence,
		})
	}
	if c.Present && b.surface != nil {
		b.surface.SwapBuffers()
	}
	b.pollFences()
}

// pollFences signals every fence whose commands have completed. GL syncs can
// only be queried from the context thread, so this runs on every submission.
func (b *Backend) pollFences() {
	n := 0
	for _, p := range b.pending {
		status := gl.ClientWaitSync(p.sync, gl.SYNC_FLUSH_COMMANDS_BIT, 0)
		if status == gl.ALREADY_SIGNALED || status == gl.CONDITION_SATISFIED || status == gl.WAIT_FAILED {
			gl.DeleteSync(p.sync)
			p.fence.Signal()
			continue
		}
		b.pending[n] = p
		n++
	}
	b.pending = b.pending[:n]
}

// glRect converts a top-left origin rectangle into GL window coordinates.
func (b *Backend) glRect(x, y, w, h float32) (int32, int32, int32, int32) {
	height := float32(b.height)
	if b.target != nil && !b.target.Window {
		height = float32(b.target.Height)
	}
	return int32(x), int32(height - y - h), int32(w), int32(h)
}

func checkError(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("%s: GL error 0x%x", op, code)
	}
	return nil
}
