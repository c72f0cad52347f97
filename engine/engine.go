package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/backends"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// alive is set while an Engine exists. The graphics context and the window
// belong to the process, so only one engine may own them.
var alive atomic.Bool

// suspendedSleep is how long a minimized engine waits between event pumps.
const suspendedSleep = 16 * time.Millisecond

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *ApplicationConfig
	isRunning     bool
	isSuspended   bool
	platform      *platform.Platform
	events        *core.EventSystem
	systemManager *systems.SystemManager
	width         uint32
	height        uint32
	clock         *core.Clock
	metrics       *core.Metrics
	lastTime      float64
	frameCount    uint64

	quit atomic.Bool
}

// New claims the engine context for g. A second call before Shutdown
// returns core.ErrEngineExists.
func New(g *Game) (*Engine, error) {
	if g == nil {
		err := fmt.Errorf("%w: engine needs a game", core.ErrInvalidUsage)
		core.LogError(err.Error())
		return nil, err
	}
	if !alive.CompareAndSwap(false, true) {
		core.LogError(core.ErrEngineExists.Error())
		return nil, core.ErrEngineExists
	}
	if g.ApplicationConfig == nil {
		config := DefaultApplicationConfig()
		g.ApplicationConfig = &config
	}
	if err := g.ApplicationConfig.Validate(); err != nil {
		alive.Store(false)
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.ApplicationConfig,
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
	}, nil
}

// Initialize boots the game, opens the window unless the backend is
// headless, and creates the systems.
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		err := fmt.Errorf("%w: engine already initialized", core.ErrInvalidUsage)
		core.LogWarn(err.Error())
		return err
	}
	e.currentStage = EngineStageBooting
	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(); err != nil {
			core.LogError("game boot failed: %s", err)
			return err
		}
	}
	// boot may have changed the config
	if err := e.config.Validate(); err != nil {
		return err
	}
	core.SetLogLevel(e.config.LogLevel)
	e.width, e.height = e.config.StartWidth, e.config.StartHeight
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	e.events = core.NewEventSystem()
	e.events.Register(core.EventCodeApplicationQuit, e, e.onQuit)
	e.events.Register(core.EventCodeResized, e, e.onResized)

	kind, err := renderer.ParseRendererType(e.config.Backend)
	if err != nil {
		return err
	}
	if kind != renderer.Headless {
		e.platform = platform.New(e.events)
		if err := e.platform.Startup(e.config.Name,
			e.config.StartPosX,
			e.config.StartPosY,
			e.config.StartWidth,
			e.config.StartHeight,
			backends.ClientAPI(kind)); err != nil {
			return err
		}
		if w, h := e.platform.FramebufferSize(); w > 0 && h > 0 {
			e.width, e.height = w, h
		}
	}

	backend, err := backends.New(kind, e.platform, e.config.LogLevel == core.LogLevelDebug)
	if err != nil {
		return err
	}
	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		AppName:            e.config.Name,
		AppWidth:           e.width,
		AppHeight:          e.height,
		Workers:            e.config.Workers,
		AssetsDir:          e.config.AssetsDir,
		WatchAssets:        e.config.WatchAssets,
		MaxBufferSlots:     e.config.MaxBufferSlots,
		ResizeSettleFrames: e.config.ResizeSettleFrames,
	}, backend, e.events)
	if err != nil {
		return err
	}
	e.systemManager = sm
	e.gameInstance.SystemManager = sm

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("game initialize failed: %s", err)
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized with the %s backend", backend.Name())
	return nil
}

// Frame runs one iteration of the frame loop on the owning thread: finished
// work is delivered first, then the game updates and renders.
func (e *Engine) Frame(delta float64) error {
	if e.currentStage != EngineStageInitialized && e.currentStage != EngineStageRunning {
		err := fmt.Errorf("%w: frame outside of a running engine", core.ErrInvalidUsage)
		core.LogWarn(err.Error())
		return err
	}
	start := time.Now()

	drained, err := e.systemManager.Update()
	if err != nil {
		core.LogError("system update failed: %s", err)
		return err
	}
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("game update failed: %s", err)
			return err
		}
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(delta); err != nil {
			core.LogError("game render failed: %s", err)
			return err
		}
	}

	e.frameCount++
	e.metrics.Update(time.Since(start).Seconds(), drained)
	return nil
}

// Run loops until the window closes, a quit is requested or the configured
// number of frames has run.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		err := fmt.Errorf("%w: run before initialize", core.ErrInvalidUsage)
		core.LogWarn(err.Error())
		return err
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		if e.quit.Load() {
			e.isRunning = false
			break
		}
		if e.isSuspended {
			time.Sleep(suspendedSleep)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		if err := e.Frame(currentTime - e.lastTime); err != nil {
			e.isRunning = false
			return err
		}
		e.lastTime = currentTime

		if e.frameCount%600 == 0 {
			total, _ := e.metrics.Drained()
			core.LogDebug("%.1f fps, %.3f ms/frame, %d completions drained", e.metrics.FPS(), e.metrics.FrameTime(), total)
		}
		if e.config.Frames > 0 && e.frameCount >= e.config.Frames {
			e.isRunning = false
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// RequestQuit stops Run after the current frame. Safe from any goroutine.
func (e *Engine) RequestQuit() {
	e.quit.Store(true)
}

// Shutdown tears everything down on the owning thread and releases the
// engine context.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return core.ErrShutdown
	}
	e.currentStage = EngineStageShuttingDown
	defer alive.Store(false)

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		e.gameInstance.SystemManager = nil
	}
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.events != nil {
		if err := e.events.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		core.LogError("engine shutdown: %s", err)
		return err
	}
	core.LogInfo("engine shut down after %d frames", e.frameCount)
	return nil
}

// GetFramebufferSize returns the width and height (in this order) of the
// application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) SystemManager() *systems.SystemManager {
	return e.systemManager
}

// Events returns the event system, nil before Initialize.
func (e *Engine) Events() *core.EventSystem {
	return e.events
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) FrameCount() uint64 {
	return e.frameCount
}

func (e *Engine) onQuit(context core.EventContext) bool {
	core.LogInfo("EventCodeApplicationQuit received, shutting down.")
	e.RequestQuit()
	return true
}

func (e *Engine) onResized(context core.EventContext) bool {
	ev, ok := context.Data.(*core.ResizeEvent)
	if !ok || ev == nil {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if ev.Width == e.width && ev.Height == e.height {
		return false
	}
	e.width, e.height = ev.Width, ev.Height
	core.LogDebug("Window resize: %d, %d", ev.Width, ev.Height)

	// Handle minimization
	if ev.Width == 0 || ev.Height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(ev.Width, ev.Height); err != nil {
			core.LogError(err.Error())
		}
	}
	// the renderer system listens too
	return false
}
