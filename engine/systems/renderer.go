package systems

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// DefaultResizeSettleFrames is how many frames a window size has to stay
// unchanged before targets are recreated.
const DefaultResizeSettleFrames = 30

type RendererSystemConfig struct {
	AppName   string
	AppWidth  uint32
	AppHeight uint32
	// Frames to wait after the last resize event. 0 uses DefaultResizeSettleFrames.
	ResizeSettleFrames uint8
}

// RendererSystem owns the backend and applies window resizes once they have
// settled, so targets are not recreated on every event of a drag.
type RendererSystem struct {
	backend renderer.RendererBackend
	config  RendererSystemConfig

	// The current window framebuffer width.
	FramebufferWidth uint32
	// The current window framebuffer height.
	FramebufferHeight uint32
	// Indicates if the window is currently being resized.
	Resizing bool
	// The current number of frames since the last resize operation.
	// Only set if resizing = true. Otherwise 0.
	FramesSinceResize uint8
}

func NewRendererSystem(config RendererSystemConfig, backend renderer.RendererBackend) (*RendererSystem, error) {
	if backend == nil {
		err := fmt.Errorf("%w: func NewRendererSystem - backend cannot be nil", core.ErrInvalidUsage)
		core.LogError(err.Error())
		return nil, err
	}
	if config.ResizeSettleFrames == 0 {
		config.ResizeSettleFrames = DefaultResizeSettleFrames
	}
	return &RendererSystem{
		backend:           backend,
		config:            config,
		FramebufferWidth:  config.AppWidth,
		FramebufferHeight: config.AppHeight,
	}, nil
}

func (r *RendererSystem) Initialize() error {
	r.Resizing = false
	r.FramesSinceResize = 0
	if err := r.backend.Initialize(metadata.RendererBackendConfig{
		ApplicationName:   r.config.AppName,
		FramebufferWidth:  r.FramebufferWidth,
		FramebufferHeight: r.FramebufferHeight,
	}); err != nil {
		err = fmt.Errorf("%w: %s renderer backend failed to initialize: %v", core.ErrConstructionFailure, r.backend.Name(), err)
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("%s renderer initialized", r.backend.Name())
	return nil
}

func (r *RendererSystem) Shutdown() error {
	return r.backend.Shutdown()
}

func (r *RendererSystem) Backend() renderer.RendererBackend {
	return r.backend
}

// OnResized is registered for core.EventCodeResized. It only records the new
// size; Update applies it once it has settled.
func (r *RendererSystem) OnResized(ctx core.EventContext) bool {
	ev, ok := ctx.Data.(*core.ResizeEvent)
	if !ok || ev == nil {
		core.LogWarn("resize event without a *core.ResizeEvent payload (%T)", ctx.Data)
		return false
	}
	if ev.Width == r.FramebufferWidth && ev.Height == r.FramebufferHeight && !r.Resizing {
		return false
	}
	r.FramebufferWidth = ev.Width
	r.FramebufferHeight = ev.Height
	r.Resizing = true
	r.FramesSinceResize = 0
	// other listeners may care too
	return false
}

// Update runs once per frame before any pass records. It reports whether a
// resize was applied.
func (r *RendererSystem) Update(resources *ResourceManager) (bool, error) {
	if !r.Resizing {
		return false, nil
	}
	r.FramesSinceResize++
	if r.FramesSinceResize < r.config.ResizeSettleFrames {
		return false, nil
	}
	if r.FramebufferWidth == 0 || r.FramebufferHeight == 0 {
		// minimized, wait for a real size
		r.FramesSinceResize = 0
		return false, nil
	}
	width, height := r.FramebufferWidth, r.FramebufferHeight
	core.LogDebug("resized to %dx%d, recreating targets", width, height)

	r.Resizing = false
	r.FramesSinceResize = 0
	if err := r.backend.Resized(width, height); err != nil {
		core.LogError("backend resize failed: %s", err)
		return false, err
	}
	if resources != nil {
		if err := resources.ResizeRenderPasses(width, height); err != nil {
			return true, err
		}
	}
	return true, nil
}
