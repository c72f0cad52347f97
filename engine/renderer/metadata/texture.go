package metadata

type TextureFormat uint8

const (
	TextureFormatRGBA8 TextureFormat = iota
	TextureFormatR8
	TextureFormatRGBA16F
	TextureFormatDepth24Stencil8
)

// BytesPerPixel returns the size of one texel.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case TextureFormatR8:
		return 1
	case TextureFormatRGBA16F:
		return 8
	default:
		return 4
	}
}

// IsDepth reports whether the format carries depth/stencil data.
func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatDepth24Stencil8
}

type TextureFlag uint8

const (
	/** @brief Indicates if the texture has transparency. */
	TextureFlagHasTransparency TextureFlag = 0x1
	/** @brief Indicates if the texture can be written (rendered) to. */
	TextureFlagIsWriteable TextureFlag = 0x2
	/** @brief Indicates the texture is an attachment of a render target. */
	TextureFlagIsAttachment TextureFlag = 0x4
)

/**
 * @brief Represents a texture.
 */
type Texture struct {
	Resource
	/** @brief The texture Width. */
	Width uint32
	/** @brief The texture Height. */
	Height uint32
	/** @brief The texel format. */
	Format TextureFormat
	/** @brief Holds various Flags for this texture. */
	Flags TextureFlag
	/** @brief The texture Generation. Incremented every time the data is reloaded. */
	Generation uint32
}

func (t *Texture) isNative() {}

/**
 * @brief Options for creating a texture. Pixels take precedence over Path.
 */
type TextureOptions struct {
	/** @brief Asset path of an encoded image (png, jpeg, bmp, tiff, webp). */
	Path string
	/** @brief Raw texel data matching Width, Height and Format. */
	Pixels []uint8
	Width  uint32
	Height uint32
	Format TextureFormat
	Label  string
	/** @brief Strand the decode runs on when created asynchronously. */
	Strand Strand
}
