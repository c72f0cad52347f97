// Package headless implements a renderer backend that creates no native
// objects. It records every command and binding it receives, which makes it
// the backend used by tests and by windowless runs.
package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// ErrInjected is returned by creations that were told to fail.
var ErrInjected = errors.New("injected failure")

// Binding is a recorded BindNativeResource call.
type Binding struct {
	Slot     uint32
	Resource metadata.NativeResource
}

// Object is the InternalData of everything the backend creates.
type Object struct {
	ID   uint64
	Kind metadata.ResourceKind
	// Data mirrors the uploaded contents of buffers and textures.
	Data []uint8
}

type Options struct {
	// Multithreaded lets the resource manager realize objects on workers.
	Multithreaded bool
	// FenceDelay delays the signal of execution fences.
	FenceDelay time.Duration
}

type Backend struct {
	opts Options

	mu        sync.Mutex
	commands  []metadata.Command
	bindings  []Binding
	live      map[metadata.ResourceKind]int
	failNext  map[metadata.ResourceKind]int
	width     uint32
	height    uint32
	presented int
	nextID    atomic.Uint64
}

func New(opts Options) *Backend {
	return &Backend{
		opts:     opts,
		live:     make(map[metadata.ResourceKind]int),
		failNext: make(map[metadata.ResourceKind]int),
	}
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) Multithreaded() bool {
	return b.opts.Multithreaded
}

func (b *Backend) Initialize(config metadata.RendererBackendConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = config.FramebufferWidth, config.FramebufferHeight
	core.LogInfo("headless renderer initialized for %s (%dx%d)", config.ApplicationName, b.width, b.height)
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, n := range b.live {
		if n != 0 {
			core.LogWarn("headless renderer: %d %s objects still alive at shutdown", n, kind)
		}
	}
	return nil
}

func (b *Backend) Resized(width, height uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
	return nil
}

func (b *Backend) FramebufferSize() (uint32, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}

// FailNext makes the next n creations of kind fail.
func (b *Backend) FailNext(kind metadata.ResourceKind, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext[kind] += n
}

// Live returns the number of objects of kind that were created and not yet
// destroyed.
func (b *Backend) Live(kind metadata.ResourceKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[kind]
}

// Commands returns a copy of the recorded commands.
func (b *Backend) Commands() []metadata.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]metadata.Command(nil), b.commands...)
}

// Bindings returns a copy of the recorded bindings.
func (b *Backend) Bindings() []Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Binding(nil), b.bindings...)
}

// Presented returns how many executions presented to the window.
func (b *Backend) Presented() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presented
}

// Reset forgets recorded commands and bindings.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = nil
	b.bindings = nil
}

func (b *Backend) SubmitNativeCommand(cmd metadata.Command) error {
	if cmd == nil {
		return fmt.Errorf("nil command")
	}
	b.mu.Lock()
	b.commands = append(b.commands, cmd)
	if exec, ok := cmd.(metadata.Execute); ok && exec.Present {
		b.presented++
	}
	b.mu.Unlock()

	if exec, ok := cmd.(metadata.Execute); ok && exec.Fence != nil {
		if b.opts.FenceDelay > 0 {
			time.AfterFunc(b.opts.FenceDelay, exec.Fence.Signal)
		} else {
			exec.Fence.Signal()
		}
	}
	return nil
}

func (b *Backend) BindNativeResource(slot uint32, res metadata.NativeResource) error {
	if res == nil || res.Base().InternalData == nil {
		return fmt.Errorf("resource at slot %d has no native object", slot)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = append(b.bindings, Binding{Slot: slot, Resource: res})
	return nil
}

func (b *Backend) create(kind metadata.ResourceKind, data []uint8) (*Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext[kind] > 0 {
		b.failNext[kind]--
		return nil, fmt.Errorf("%s: %w", kind, ErrInjected)
	}
	b.live[kind]++
	return &Object{
		ID:   b.nextID.Add(1),
		Kind: kind,
		Data: append([]uint8(nil), data...),
	}, nil
}

func (b *Backend) destroy(res *metadata.Resource) {
	if res.InternalData == nil {
		return
	}
	obj := res.InternalData.(*Object)
	b.mu.Lock()
	b.live[obj.Kind]--
	b.mu.Unlock()
	res.InternalData = nil
}

func (b *Backend) TextureCreate(texture *metadata.Texture, pixels []uint8) error {
	if pixels != nil {
		want := int(texture.Width) * int(texture.Height) * texture.Format.BytesPerPixel()
		if len(pixels) != want {
			return fmt.Errorf("texture %s: %d bytes of pixels, expected %d", texture.String(), len(pixels), want)
		}
	}
	obj, err := b.create(metadata.ResourceKindTexture, pixels)
	if err != nil {
		return err
	}
	texture.InternalData = obj
	return nil
}

func (b *Backend) TextureDestroy(texture *metadata.Texture) {
	b.destroy(&texture.Resource)
}

func (b *Backend) BufferCreate(buffer *metadata.Buffer) error {
	obj, err := b.create(metadata.ResourceKindBuffer, buffer.Slots.Storage())
	if err != nil {
		return err
	}
	buffer.InternalData = obj
	return nil
}

func (b *Backend) BufferUpload(buffer *metadata.Buffer, offset, size int) error {
	obj, ok := buffer.InternalData.(*Object)
	if !ok {
		return fmt.Errorf("buffer %s has no native object", buffer.String())
	}
	if offset < 0 || offset+size > len(obj.Data) {
		return fmt.Errorf("upload [%d, %d) out of range for buffer %s of %d bytes", offset, offset+size, buffer.String(), len(obj.Data))
	}
	b.mu.Lock()
	copy(obj.Data[offset:offset+size], buffer.Slots.Storage()[offset:offset+size])
	b.mu.Unlock()
	return nil
}

func (b *Backend) BufferResize(buffer *metadata.Buffer) error {
	obj, err := b.create(metadata.ResourceKindBuffer, buffer.Slots.Storage())
	if err != nil {
		return err
	}
	b.destroy(&buffer.Resource)
	buffer.InternalData = obj
	return nil
}

func (b *Backend) BufferDestroy(buffer *metadata.Buffer) {
	b.destroy(&buffer.Resource)
}

func (b *Backend) MeshCreate(mesh *metadata.Mesh, vertices []uint8, indices []uint32) error {
	if mesh.Layout.Stride == 0 || len(vertices)%int(mesh.Layout.Stride) != 0 {
		return fmt.Errorf("mesh %s: %d vertex bytes do not match stride %d", mesh.String(), len(vertices), mesh.Layout.Stride)
	}
	obj, err := b.create(metadata.ResourceKindMesh, vertices)
	if err != nil {
		return err
	}
	mesh.InternalData = obj
	return nil
}

func (b *Backend) MeshDestroy(mesh *metadata.Mesh) {
	b.destroy(&mesh.Resource)
}

func (b *Backend) PipelineCreate(pipeline *metadata.Pipeline, stages []metadata.ShaderSource) error {
	for _, stage := range stages {
		if len(stage.Code) == 0 {
			return fmt.Errorf("pipeline %s: %s stage has no code", pipeline.String(), stage.Stage)
		}
	}
	obj, err := b.create(metadata.ResourceKindPipeline, nil)
	if err != nil {
		return err
	}
	pipeline.InternalData = obj
	return nil
}

func (b *Backend) PipelineDestroy(pipeline *metadata.Pipeline) {
	b.destroy(&pipeline.Resource)
}

func (b *Backend) RenderTargetCreate(target *metadata.RenderTarget) error {
	obj, err := b.create(metadata.ResourceKindRenderPass, nil)
	if err != nil {
		return err
	}
	target.InternalFramebuffer = obj
	return nil
}

func (b *Backend) RenderTargetDestroy(target *metadata.RenderTarget) {
	obj, ok := target.InternalFramebuffer.(*Object)
	if !ok {
		return
	}
	b.mu.Lock()
	b.live[obj.Kind]--
	b.mu.Unlock()
	target.InternalFramebuffer = nil
}
