package systems

import (
	"github.com/spaghettifunk/kiln/engine/assets/loaders"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type textureData struct {
	width       uint32
	height      uint32
	format      metadata.TextureFormat
	pixels      []uint8
	transparent bool
}

/**
 * @brief Creates the texture registered under key, or returns the registered one.
 * When the key is taken the options are ignored.
 * @param key The key to register the texture under, or metadata.TransientKey.
 * @param opts Pixels, an image asset path, or just a size for a writeable texture.
 * @returns The texture with one reference added. Release it when done.
 */
func (rm *ResourceManager) CreateTexture(key metadata.Key, opts metadata.TextureOptions) (*metadata.Texture, error) {
	if err := rm.checkOpen(metadata.ResourceKindTexture, key); err != nil {
		return nil, err
	}
	return rm.textureBuild(key, opts).createSync()
}

/**
 * @brief Creates the texture on a worker. Image decoding runs on opts.Strand,
 * StrandAssetIO by default for textures read from disk. handler runs on the
 * owning thread during a drain.
 */
func (rm *ResourceManager) AsyncCreateTexture(key metadata.Key, opts metadata.TextureOptions, handler func(*metadata.Texture, error)) {
	if err := rm.checkOpen(metadata.ResourceKindTexture, key); err != nil {
		if handler != nil {
			handler(nil, err)
		}
		return
	}
	rm.textureBuild(key, opts).createAsync(rm.scheduler, rm.backend.Multithreaded(), handler)
}

// LookupTexture returns a registered texture without adding a reference.
func (rm *ResourceManager) LookupTexture(key metadata.Key) (*metadata.Texture, bool) {
	return rm.textures.get(key)
}

func (rm *ResourceManager) textureBuild(key metadata.Key, opts metadata.TextureOptions) *build[*metadata.Texture, *textureData] {
	b := newBuild[*metadata.Texture, *textureData](rm, rm.textures, metadata.ResourceKindTexture, key)
	b.strand = opts.Strand
	if b.strand == metadata.StrandNone && opts.Pixels == nil && opts.Path != "" {
		b.strand = metadata.StrandAssetIO
	}
	b.prepare = func() (*textureData, error) {
		return rm.prepareTexture(key, opts)
	}
	b.realize = func(data *textureData) (*metadata.Texture, error) {
		tex := &metadata.Texture{
			Resource: metadata.Resource{
				Key:   key,
				Kind:  metadata.ResourceKindTexture,
				Label: opts.Label,
			},
			Width:  data.width,
			Height: data.height,
			Format: data.format,
		}
		if tex.Label == "" {
			tex.Label = opts.Path
		}
		if data.transparent {
			tex.Flags |= metadata.TextureFlagHasTransparency
		}
		if data.pixels == nil {
			tex.Flags |= metadata.TextureFlagIsWriteable
		}
		if err := rm.backend.TextureCreate(tex, data.pixels); err != nil {
			return nil, err
		}
		tex.Generation++
		return tex, nil
	}
	b.destroy = rm.destroyTexture
	return b
}

func (rm *ResourceManager) prepareTexture(key metadata.Key, opts metadata.TextureOptions) (*textureData, error) {
	switch {
	case opts.Pixels != nil:
		want := int(opts.Width) * int(opts.Height) * opts.Format.BytesPerPixel()
		if opts.Width == 0 || opts.Height == 0 || len(opts.Pixels) != want {
			return nil, invalidUsage("texture %d: %d bytes of pixels for %dx%d, expected %d", key, len(opts.Pixels), opts.Width, opts.Height, want)
		}
		return &textureData{
			width:  opts.Width,
			height: opts.Height,
			format: opts.Format,
			pixels: opts.Pixels,
		}, nil

	case opts.Path != "":
		if rm.assets == nil {
			return nil, invalidUsage("texture %d: %s cannot be loaded without an asset manager", key, opts.Path)
		}
		asset, err := rm.assets.LoadAsset(opts.Path, loaders.ImageParams{FlipY: rm.backend.Name() == "opengl"})
		if err != nil {
			return nil, err
		}
		img, ok := asset.Data.(*loaders.Image)
		if !ok {
			return nil, invalidUsage("texture %d: %s is not an image", key, opts.Path)
		}
		core.LogDebug("texture %d decoded from %s (%dx%d)", key, opts.Path, img.Width, img.Height)
		return &textureData{
			width:       img.Width,
			height:      img.Height,
			format:      metadata.TextureFormatRGBA8,
			pixels:      img.Pixels,
			transparent: img.HasTransparency,
		}, nil

	case opts.Width > 0 && opts.Height > 0:
		return &textureData{
			width:  opts.Width,
			height: opts.Height,
			format: opts.Format,
		}, nil
	}
	return nil, invalidUsage("texture %d: options carry neither pixels, a path nor a size", key)
}

func (rm *ResourceManager) destroyTexture(tex *metadata.Texture) {
	rm.backend.TextureDestroy(tex)
	tex.Generation++
}
