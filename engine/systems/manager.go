package systems

import (
	"errors"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
)

type SystemManagerConfig struct {
	AppName   string
	AppWidth  uint32
	AppHeight uint32
	// Worker goroutines of the strand scheduler, clamped to MaxWorkers.
	Workers int
	// Asset directory. Empty runs without an asset manager.
	AssetsDir   string
	WatchAssets bool
	// Upper bound of slots a dynamically sized buffer may grow to. 0 means unbounded.
	MaxBufferSlots     int
	ResizeSettleFrames uint8
}

type SystemManager struct {
	JobSystem      *StrandScheduler
	RendererSystem *RendererSystem
	Resources      *ResourceManager
	AssetManager   *assets.AssetManager
	// Keys hands out resource keys to callers that do not pick their own.
	Keys *core.KeyPool

	events *core.EventSystem
}

func NewSystemManager(config SystemManagerConfig, backend renderer.RendererBackend, events *core.EventSystem) (*SystemManager, error) {
	js, err := NewStrandScheduler(config.Workers)
	if err != nil {
		return nil, err
	}

	var am *assets.AssetManager
	if config.AssetsDir != "" {
		am, err = assets.NewAssetManager()
		if err != nil {
			js.Shutdown()
			return nil, err
		}
		if err := am.Initialize(config.AssetsDir, config.WatchAssets); err != nil {
			js.Shutdown()
			return nil, err
		}
	}

	rs, err := NewRendererSystem(RendererSystemConfig{
		AppName:            config.AppName,
		AppWidth:           config.AppWidth,
		AppHeight:          config.AppHeight,
		ResizeSettleFrames: config.ResizeSettleFrames,
	}, backend)
	if err != nil {
		js.Shutdown()
		return nil, err
	}
	if err := rs.Initialize(); err != nil {
		js.Shutdown()
		return nil, err
	}

	rm, err := NewResourceManager(ResourceManagerConfig{
		MaxBufferSlots: config.MaxBufferSlots,
	}, backend, js, am)
	if err != nil {
		js.Shutdown()
		return nil, err
	}

	sm := &SystemManager{
		JobSystem:      js,
		RendererSystem: rs,
		Resources:      rm,
		AssetManager:   am,
		Keys:           core.NewKeyPool(),
		events:         events,
	}
	if events != nil {
		events.Register(core.EventCodeResized, sm, rs.OnResized)
	}
	return sm, nil
}

// Update runs once per frame on the owning thread: it delivers finished work
// and applies settled resizes. It returns the number of completions run.
func (sm *SystemManager) Update() (int, error) {
	drained := sm.JobSystem.Drain()
	_, err := sm.RendererSystem.Update(sm.Resources)
	return drained, err
}

func (sm *SystemManager) Shutdown() error {
	var errs []error
	if sm.events != nil {
		sm.events.Unregister(core.EventCodeResized, sm)
	}
	if err := sm.JobSystem.Shutdown(); err != nil && !errors.Is(err, core.ErrShutdown) {
		errs = append(errs, err)
	}
	// builds that finished before the workers stopped still get registered
	// so the resource manager can destroy them
	sm.JobSystem.Drain()
	if err := sm.Resources.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := sm.RendererSystem.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if sm.AssetManager != nil {
		if err := sm.AssetManager.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
