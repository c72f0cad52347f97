package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type ImageParams struct {
	// FlipY stores the rows bottom to top, as OpenGL samples them.
	FlipY bool
}

// Image holds tightly packed 8-bit RGBA pixels.
type Image struct {
	Width  uint32
	Height uint32
	Pixels []uint8
	// HasTransparency is set when any pixel is not fully opaque.
	HasTransparency bool
}

type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params interface{}) (*Asset, error) {
	var p ImageParams
	switch typed := params.(type) {
	case ImageParams:
		p = typed
	case *ImageParams:
		if typed != nil {
			p = *typed
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	src, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	img := DecodeRGBA(src, p.FlipY)

	return &Asset{
		Name:     format,
		FullPath: path,
		DataSize: uint64(len(img.Pixels)),
		Data:     img,
	}, nil
}

// DecodeRGBA converts any decoded image to tightly packed RGBA.
func DecodeRGBA(src image.Image, flipY bool) *Image {
	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)

	w, h := bounds.Dx(), bounds.Dy()
	stride := w * 4
	pixels := make([]uint8, stride*h)
	for y := 0; y < h; y++ {
		row := y
		if flipY {
			row = h - 1 - y
		}
		copy(pixels[row*stride:(row+1)*stride], rgba.Pix[y*rgba.Stride:y*rgba.Stride+stride])
	}

	transparent := false
	for i := 3; i < len(pixels); i += 4 {
		if pixels[i] < 255 {
			transparent = true
			break
		}
	}
	return &Image{
		Width:           uint32(w),
		Height:          uint32(h),
		Pixels:          pixels,
		HasTransparency: transparent,
	}
}
