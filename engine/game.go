package engine

import (
	"github.com/spaghettifunk/kiln/engine/systems"
)

// Game is what an application hands to the engine. Every callback is
// optional. SystemManager is set by the engine before FnInitialize runs.
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	State             interface{}
	FnBoot            Boot
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Boot runs before any system exists. It may still change the config.
type Boot func() error
type Initialize func() error
type Update func(deltaTime float64) error

// Render records the frame. Completions of the frame were already drained.
type Render func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
