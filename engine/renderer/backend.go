package renderer

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// CommandSink is the narrow boundary render passes talk to. A backend
// translates each command into its native call sequence.
type CommandSink interface {
	SubmitNativeCommand(cmd metadata.Command) error
	BindNativeResource(slot uint32, res metadata.NativeResource) error
}

// Factory creates and destroys native objects. Every Create fills the
// object's InternalData and returns an error when the native call fails.
type Factory interface {
	TextureCreate(texture *metadata.Texture, pixels []uint8) error
	TextureDestroy(texture *metadata.Texture)
	BufferCreate(buffer *metadata.Buffer) error
	// BufferUpload copies [offset, offset+size) of the buffer storage to the
	// native buffer.
	BufferUpload(buffer *metadata.Buffer, offset, size int) error
	// BufferResize replaces the native buffer after the storage has grown and
	// uploads the whole storage.
	BufferResize(buffer *metadata.Buffer) error
	BufferDestroy(buffer *metadata.Buffer)
	MeshCreate(mesh *metadata.Mesh, vertices []uint8, indices []uint32) error
	MeshDestroy(mesh *metadata.Mesh)
	PipelineCreate(pipeline *metadata.Pipeline, stages []metadata.ShaderSource) error
	PipelineDestroy(pipeline *metadata.Pipeline)
	RenderTargetCreate(target *metadata.RenderTarget) error
	RenderTargetDestroy(target *metadata.RenderTarget)
}

type RendererBackend interface {
	CommandSink
	Factory
	Initialize(config metadata.RendererBackendConfig) error
	Shutdown() error
	Resized(width, height uint32) error
	FramebufferSize() (uint32, uint32)
	// Multithreaded reports whether native objects may be created off the
	// thread that owns the graphics context.
	Multithreaded() bool
	Name() string
}

type RendererType uint8

const (
	Headless RendererType = iota
	OpenGL
	Vulkan
)

func (t RendererType) String() string {
	switch t {
	case Headless:
		return "headless"
	case OpenGL:
		return "opengl"
	case Vulkan:
		return "vulkan"
	}
	return fmt.Sprintf("RendererType(%d)", uint8(t))
}

// ParseRendererType maps a configuration value to a backend type.
func ParseRendererType(name string) (RendererType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "headless":
		return Headless, nil
	case "opengl", "gl":
		return OpenGL, nil
	case "vulkan", "vk":
		return Vulkan, nil
	}
	return Headless, fmt.Errorf("%w: unknown renderer backend %q", core.ErrInvalidUsage, name)
}
