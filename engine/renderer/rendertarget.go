package renderer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// CreateRenderTarget builds the attachments described by config and the
// native framebuffer that groups them. Attachments are owned by the target.
func CreateRenderTarget(factory Factory, config metadata.RenderTargetConfig, width, height uint32, label string) (*metadata.RenderTarget, error) {
	if len(config.ColorFormats) > metadata.MaxColorAttachments {
		return nil, fmt.Errorf("%w: render target %q has %d color attachments, at most %d are supported",
			core.ErrInvalidUsage, label, len(config.ColorFormats), metadata.MaxColorAttachments)
	}
	if config.Window && len(config.ColorFormats) > 0 {
		return nil, fmt.Errorf("%w: window render target %q cannot declare color attachments", core.ErrInvalidUsage, label)
	}
	if !config.WindowSized() {
		width, height = config.Width, config.Height
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: render target %q has an empty size %dx%d", core.ErrInvalidUsage, label, width, height)
	}

	target := &metadata.RenderTarget{
		Window: config.Window,
		Width:  width,
		Height: height,
	}
	for i, format := range config.ColorFormats {
		tex, err := createAttachment(factory, format, width, height, fmt.Sprintf("%s.color%d", label, i))
		if err != nil {
			DestroyRenderTarget(factory, target)
			return nil, err
		}
		target.Colors = append(target.Colors, tex)
	}
	if config.Depth {
		tex, err := createAttachment(factory, metadata.TextureFormatDepth24Stencil8, width, height, label+".depth")
		if err != nil {
			DestroyRenderTarget(factory, target)
			return nil, err
		}
		target.Depth = tex
	}
	if err := factory.RenderTargetCreate(target); err != nil {
		DestroyRenderTarget(factory, target)
		return nil, fmt.Errorf("%w: render target %q: %v", core.ErrConstructionFailure, label, err)
	}
	return target, nil
}

func createAttachment(factory Factory, format metadata.TextureFormat, width, height uint32, label string) (*metadata.Texture, error) {
	tex := &metadata.Texture{
		Resource: metadata.Resource{
			Key:   metadata.TransientKey,
			Kind:  metadata.ResourceKindTexture,
			Label: label + "." + uuid.NewString(),
		},
		Width:  width,
		Height: height,
		Format: format,
		Flags:  metadata.TextureFlagIsWriteable | metadata.TextureFlagIsAttachment,
	}
	if err := factory.TextureCreate(tex, nil); err != nil {
		return nil, fmt.Errorf("%w: attachment %s: %v", core.ErrConstructionFailure, label, err)
	}
	return tex, nil
}

// DestroyRenderTarget releases the framebuffer and every attachment. It is
// safe to call on a partially built target.
func DestroyRenderTarget(factory Factory, target *metadata.RenderTarget) {
	if target == nil {
		return
	}
	// backends ignore targets whose framebuffer was never created
	factory.RenderTargetDestroy(target)
	target.InternalFramebuffer = nil
	for _, tex := range target.Colors {
		factory.TextureDestroy(tex)
	}
	target.Colors = nil
	if target.Depth != nil {
		factory.TextureDestroy(target.Depth)
		target.Depth = nil
	}
}
