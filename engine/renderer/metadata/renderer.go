package metadata

import (
	"github.com/spaghettifunk/kiln/engine/math"
)

type RendererBackendConfig struct {
	/** @brief The name of the application */
	ApplicationName string
	/** @brief Initial framebuffer size. */
	FramebufferWidth  uint32
	FramebufferHeight uint32
}

type Color struct {
	R, G, B, A float32
}

// MaxColorAttachments is the number of color attachments a render target can
// carry. Input chaining binds them in order, followed by depth/stencil.
const MaxColorAttachments = 3

/** @brief Describes the attachments of one render pass stage. */
type RenderTargetConfig struct {
	/** @brief One format per color attachment, at most MaxColorAttachments. */
	ColorFormats []TextureFormat
	/** @brief Adds a depth/stencil attachment. */
	Depth bool
	/** @brief The target is the window framebuffer. Only valid for the last stage. */
	Window bool
	/** @brief Attachment size. 0 follows the framebuffer size and resizes with it. */
	Width  uint32
	Height uint32
}

// WindowSized reports whether the target follows the framebuffer size.
func (c RenderTargetConfig) WindowSized() bool {
	return c.Window || c.Width == 0 || c.Height == 0
}

/** @brief Represents a render target, which is used for rendering to a texture or set of textures. */
type RenderTarget struct {
	/** @brief Color attachments in binding order. */
	Colors []*Texture
	/** @brief The depth/stencil attachment, if any. */
	Depth *Texture
	/** @brief Rendering goes to the window and is presented after execution. */
	Window bool
	Width  uint32
	Height uint32
	/** @brief The renderer API internal framebuffer object. */
	InternalFramebuffer interface{}
}

// Attachments returns every attachment in input binding order: color0,
// color1, color2, then depth/stencil.
func (rt *RenderTarget) Attachments() []*Texture {
	if rt == nil {
		return nil
	}
	out := make([]*Texture, 0, len(rt.Colors)+1)
	out = append(out, rt.Colors...)
	if rt.Depth != nil {
		out = append(out, rt.Depth)
	}
	return out
}

// FullRect covers the whole target.
func (rt *RenderTarget) FullRect() math.Rect {
	return math.Rect{Width: float32(rt.Width), Height: float32(rt.Height)}
}

/** @brief One stage of a render pass: the pipeline it draws with and where it draws to. */
type RenderStageConfig struct {
	/** @brief Registered pipeline used by the stage. A key with no registered pipeline leaves the stage unset. */
	Pipeline Key
	Target   RenderTargetConfig
}

type RenderPassOptions struct {
	Stages []RenderStageConfig
	/** @brief Clear every target when its subpass starts. */
	AutoClear bool
	/** @brief Color used by the automatic clear. */
	ClearColor Color
	Label      string
}
