// Package backends constructs the renderer backend named in the
// configuration.
package backends

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/opengl"
	"github.com/spaghettifunk/kiln/engine/renderer/vulkan"
)

// ClientAPI returns the context the window has to be created with for kind.
func ClientAPI(kind renderer.RendererType) platform.ClientAPI {
	if kind == renderer.OpenGL {
		return platform.ClientAPIOpenGL
	}
	return platform.ClientAPINone
}

// New returns an uninitialized backend. Every kind but Headless needs a
// platform whose window is already open. debug turns on the native
// validation layers where the API has them.
func New(kind renderer.RendererType, p *platform.Platform, debug bool) (renderer.RendererBackend, error) {
	switch kind {
	case renderer.Headless:
		return headless.New(headless.Options{Multithreaded: true}), nil
	case renderer.OpenGL:
		if p == nil {
			return nil, missingPlatform(kind)
		}
		return opengl.New(p), nil
	case renderer.Vulkan:
		if p == nil {
			return nil, missingPlatform(kind)
		}
		return vulkan.New(p, debug), nil
	}
	err := fmt.Errorf("%w: unknown renderer backend %s", core.ErrInvalidUsage, kind)
	core.LogError(err.Error())
	return nil, err
}

func missingPlatform(kind renderer.RendererType) error {
	err := fmt.Errorf("%w: %s backend needs a window", core.ErrInvalidUsage, kind)
	core.LogError(err.Error())
	return err
}
