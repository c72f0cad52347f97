package platform

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/kiln/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// ClientAPI selects the context the window is created with.
type ClientAPI uint8

const (
	// ClientAPINone creates no context, as Vulkan requires.
	ClientAPINone ClientAPI = iota
	ClientAPIOpenGL
)

// Platform owns the window. Resize and close events are forwarded to the
// event system; every method must be called from the main thread.
type Platform struct {
	Window *glfw.Window

	events    *core.EventSystem
	clientAPI ClientAPI
	startTime float64
}

func New(events *core.EventSystem) *Platform {
	return &Platform{
		events: events,
	}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32, api ClientAPI) error {
	if err := glfw.Init(); err != nil {
		err = fmt.Errorf("%w: failed to initialize glfw: %v", core.ErrConstructionFailure, err)
		core.LogError(err.Error())
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	switch api {
	case ClientAPIOpenGL:
		glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLAPI)
		glfw.WindowHint(glfw.ContextVersionMajor, 3)
		glfw.WindowHint(glfw.ContextVersionMinor, 3)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
		glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	default:
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.
	}

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		err = fmt.Errorf("%w: failed to create window: %v", core.ErrConstructionFailure, err)
		core.LogError(err.Error())
		return err
	}
	p.Window = window
	p.clientAPI = api
	if api == ClientAPIOpenGL {
		window.MakeContextCurrent()
		glfw.SwapInterval(1)
	}

	window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	window.SetCloseCallback(p.closeCallback)
	window.SetKeyCallback(p.keyCallback)
	window.SetPos(int(x), int(y))
	window.Show()

	p.startTime = glfw.GetTime()
	core.LogInfo("window %q created (%dx%d)", applicationName, width, height)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (p *Platform) PumpMessages() bool {
	if p.Window == nil {
		return false
	}
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// FramebufferSize returns the size of the window framebuffer in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	if p.Window == nil {
		return 0, 0
	}
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// SwapBuffers presents the back buffer of an OpenGL window.
func (p *Platform) SwapBuffers() {
	if p.Window != nil && p.clientAPI == ClientAPIOpenGL {
		p.Window.SwapBuffers()
	}
}

// GetRequiredExtensionNames lists the instance extensions Vulkan needs to
// present to this window.
func (p *Platform) GetRequiredExtensionNames() []string {
	if p.Window == nil {
		return nil
	}
	return p.Window.GetRequiredInstanceExtensions()
}

// GetAbsoluteTime returns the seconds since Startup.
func (p *Platform) GetAbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Sleep(ms float64) {
	time.Sleep(time.Duration(ms * float64(time.Millisecond)))
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	if p.events == nil {
		return
	}
	p.events.Fire(core.EventContext{
		Type:   core.EventCodeResized,
		Sender: p,
		Data:   &core.ResizeEvent{Width: uint32(width), Height: uint32(height)},
	})
}

func (p *Platform) closeCallback(w *glfw.Window) {
	if p.events != nil {
		p.events.Fire(core.EventContext{Type: core.EventCodeApplicationQuit, Sender: p})
	}
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.SetShouldClose(true)
		p.closeCallback(w)
	}
}
