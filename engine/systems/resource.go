package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

/** @brief The configuration for the resource manager */
type ResourceManagerConfig struct {
	/** @brief Upper bound of slots a dynamically sized buffer may grow to. 0 means unbounded. */
	MaxBufferSlots int
}

// ResourceManager owns every render pass, pipeline, mesh, texture and buffer.
// Each kind is created at most once per key, either in place (CreateX) or
// through the scheduler (AsyncCreateX), whose completion registers the
// result on the owning thread.
//
// Registries are only touched by the owning thread, except the texture
// registry which is locked.
type ResourceManager struct {
	config    ResourceManagerConfig
	backend   renderer.RendererBackend
	scheduler *StrandScheduler
	assets    *assets.AssetManager

	passes    *registry[*renderer.RenderPass]
	pipelines *registry[*metadata.Pipeline]
	meshes    *registry[*metadata.Mesh]
	textures  *registry[*metadata.Texture]
	buffers   *registry[*metadata.Buffer]

	closed bool
}

// NewResourceManager creates the manager. am may be nil, in which case only
// in-memory data can be used to build resources.
func NewResourceManager(config ResourceManagerConfig, backend renderer.RendererBackend, scheduler *StrandScheduler, am *assets.AssetManager) (*ResourceManager, error) {
	if backend == nil {
		err := fmt.Errorf("%w: func NewResourceManager - backend cannot be nil", core.ErrInvalidUsage)
		core.LogError(err.Error())
		return nil, err
	}
	if scheduler == nil {
		err := fmt.Errorf("%w: func NewResourceManager - scheduler cannot be nil", core.ErrInvalidUsage)
		core.LogError(err.Error())
		return nil, err
	}
	if config.MaxBufferSlots < 0 {
		err := fmt.Errorf("%w: func NewResourceManager - config.MaxBufferSlots must be >= 0", core.ErrInvalidUsage)
		core.LogError(err.Error())
		return nil, err
	}
	return &ResourceManager{
		config:    config,
		backend:   backend,
		scheduler: scheduler,
		assets:    am,
		passes:    newRegistry[*renderer.RenderPass](nil),
		pipelines: newRegistry[*metadata.Pipeline](nil),
		meshes:    newRegistry[*metadata.Mesh](nil),
		textures:  newRegistry[*metadata.Texture](&sync.Mutex{}),
		buffers:   newRegistry[*metadata.Buffer](nil),
	}, nil
}

// Count returns the number of live resources of a kind, transient ones
// included.
func (rm *ResourceManager) Count(kind metadata.ResourceKind) int {
	switch kind {
	case metadata.ResourceKindRenderPass:
		return rm.passes.len()
	case metadata.ResourceKindPipeline:
		return rm.pipelines.len()
	case metadata.ResourceKindMesh:
		return rm.meshes.len()
	case metadata.ResourceKindTexture:
		return rm.textures.len()
	case metadata.ResourceKindBuffer:
		return rm.buffers.len()
	}
	return 0
}

// CollectUnused destroys every resource, registered or transient, that has no
// external reference left. Passes go first so the pipelines they release can
// be collected in the same sweep.
func (rm *ResourceManager) CollectUnused() int {
	n := rm.passes.collect(rm.destroyRenderPass)
	n += rm.pipelines.collect(rm.destroyPipeline)
	n += rm.meshes.collect(rm.destroyMesh)
	n += rm.textures.collect(rm.destroyTexture)
	n += rm.buffers.collect(rm.destroyBuffer)
	if n > 0 {
		core.LogDebug("resource manager collected %d unused resources", n)
	}
	return n
}

// ResizeRenderPasses resizes the window sized targets of every pass.
func (rm *ResourceManager) ResizeRenderPasses(width, height uint32) error {
	var errs []error
	rm.passes.each(func(rp *renderer.RenderPass) {
		if err := rp.Resize(width, height); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Shutdown destroys everything regardless of outstanding references, passes
// first.
func (rm *ResourceManager) Shutdown() error {
	if rm.closed {
		return nil
	}
	rm.closed = true
	n := rm.passes.purge(rm.destroyRenderPass)
	n += rm.pipelines.purge(rm.destroyPipeline)
	n += rm.meshes.purge(rm.destroyMesh)
	n += rm.textures.purge(rm.destroyTexture)
	n += rm.buffers.purge(rm.destroyBuffer)
	core.LogDebug("resource manager destroyed %d resources at shutdown", n)
	return nil
}

func (rm *ResourceManager) checkOpen(kind metadata.ResourceKind, key metadata.Key) error {
	if rm.closed {
		err := fmt.Errorf("%w: cannot create %s %d", core.ErrShutdown, kind, key)
		core.LogWarn(err.Error())
		return err
	}
	return nil
}

// newBuild fills the parts every kind shares.
func newBuild[T metadata.Handle, P any](rm *ResourceManager, reg *registry[T], kind metadata.ResourceKind, key metadata.Key) *build[T, P] {
	return &build[T, P]{
		kind:     kind,
		key:      key,
		registry: reg,
		guard: func() error {
			return rm.checkOpen(kind, key)
		},
	}
}

func invalidUsage(format string, args ...interface{}) error {
	err := fmt.Errorf("%w: %s", core.ErrInvalidUsage, fmt.Sprintf(format, args...))
	core.LogWarn(err.Error())
	return err
}

func constructionFailure(kind metadata.ResourceKind, key metadata.Key, cause error) error {
	if errors.Is(cause, core.ErrInvalidUsage) || errors.Is(cause, core.ErrResourceExhausted) || errors.Is(cause, core.ErrConstructionFailure) {
		return cause
	}
	return fmt.Errorf("%w: %s %d: %v", core.ErrConstructionFailure, kind, key, cause)
}

// build describes how one kind is constructed. prepare does the CPU work and
// may run on any worker. realize creates the native object; it runs on a
// worker only when the backend is multithreaded and onOwner is not set.
type build[T metadata.Handle, P any] struct {
	kind     metadata.ResourceKind
	key      metadata.Key
	strand   metadata.Strand
	onOwner  bool
	// guard is checked when a posted build completes
	guard    func() error
	registry *registry[T]
	prepare  func() (P, error)
	realize  func(P) (T, error)
	destroy  func(T)
}

type prepared[P any] struct {
	data P
}

func (p *prepared[P]) Release() {}

type realized[T any] struct {
	value   T
	destroy func(T)
}

// Release destroys a native object nobody took.
func (r *realized[T]) Release() {
	r.destroy(r.value)
}

// finish registers v, or hands out the resource that won the key meanwhile.
// The returned resource carries one more reference.
func (b *build[T, P]) finish(v T) T {
	if b.key == metadata.TransientKey {
		b.registry.track(v)
		v.Base().Retain()
		return v
	}
	existing, inserted := b.registry.insert(b.key, v)
	if !inserted {
		core.LogDebug("%s %d was registered while it was being built, keeping the registered one", b.kind, b.key)
		b.destroy(v)
	}
	existing.Base().Retain()
	return existing
}

func (b *build[T, P]) lookup() (T, bool) {
	var zero T
	if b.key == metadata.TransientKey {
		return zero, false
	}
	v, ok := b.registry.get(b.key)
	if !ok {
		return zero, false
	}
	v.Base().Retain()
	return v, true
}

func (b *build[T, P]) fail(err error) (T, error) {
	var zero T
	err = constructionFailure(b.kind, b.key, err)
	if !errors.Is(err, core.ErrInvalidUsage) {
		core.LogError(err.Error())
	}
	return zero, err
}

// createSync builds in place. A registered key returns the existing resource
// and the options are ignored.
func (b *build[T, P]) createSync() (T, error) {
	if v, ok := b.lookup(); ok {
		return v, nil
	}
	data, err := b.prepare()
	if err != nil {
		return b.fail(err)
	}
	v, err := b.realize(data)
	if err != nil {
		return b.fail(err)
	}
	return b.finish(v), nil
}

// createAsync posts the build and delivers the result to handler during a
// later drain. Without workers it builds in place and calls handler directly.
func (b *build[T, P]) createAsync(s *StrandScheduler, multithreaded bool, handler func(T, error)) {
	if handler == nil {
		handler = func(T, error) {}
	}
	if s.Workers() == 0 {
		handler(b.createSync())
		return
	}
	var zero T
	if v, ok := b.lookup(); ok {
		err := s.Post(func() metadata.Result { return metadata.ResultNone() }, func(metadata.Result) {
			handler(v, nil)
		}, metadata.StrandNone)
		if err != nil {
			v.Base().Release()
			handler(zero, err)
		}
		return
	}

	realizeOnWorker := multithreaded && !b.onOwner
	err := s.Post(func() metadata.Result {
		data, err := b.prepare()
		if err != nil {
			return metadata.ResultFailed(err)
		}
		if !realizeOnWorker {
			return metadata.ResultOwned(&prepared[P]{data: data})
		}
		v, err := b.realize(data)
		if err != nil {
			return metadata.ResultFailed(err)
		}
		return metadata.ResultOwned(&realized[T]{value: v, destroy: b.destroy})
	}, func(r metadata.Result) {
		if err := r.Err(); err != nil {
			handler(b.fail(err))
			return
		}
		if b.guard != nil {
			if err := b.guard(); err != nil {
				r.Release()
				handler(zero, err)
				return
			}
		}
		owned, _ := r.Owned()
		var v T
		switch o := owned.(type) {
		case *realized[T]:
			v = o.value
		case *prepared[P]:
			var err error
			if v, err = b.realize(o.data); err != nil {
				handler(b.fail(err))
				return
			}
		default:
			handler(b.fail(fmt.Errorf("unexpected build result %T", owned)))
			return
		}
		handler(b.finish(v), nil)
	}, b.strand)
	if err != nil {
		handler(zero, err)
	}
}
