package math

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

// Rect is an axis aligned rectangle in framebuffer pixels.
type Rect struct {
	X, Y          float32
	Width, Height float32
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ClampTo returns r clipped to the [0,0,width,height] area.
func (r Rect) ClampTo(width, height float32) Rect {
	x := Clamp(r.X, 0, width)
	y := Clamp(r.Y, 0, height)
	return Rect{
		X:      x,
		Y:      y,
		Width:  Clamp(r.Width, 0, width-x),
		Height: Clamp(r.Height, 0, height-y),
	}
}
