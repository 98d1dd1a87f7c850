package detect

import "math"

// Letterbox describes an aspect preserving resize of a Width x Height image
// into a Size x Size model input, centered with padding.
type Letterbox struct {
	Width, Height int
	Size          int
	Scale         float64
	PadX, PadY    int
}

func NewLetterbox(width, height, size int) Letterbox {
	lb := Letterbox{Width: width, Height: height, Size: size, Scale: 1}
	if width <= 0 || height <= 0 || size <= 0 {
		return lb
	}
	lb.Scale = math.Min(float64(size)/float64(width), float64(size)/float64(height))
	// resized sizes truncate, as OpenCV's letterbox blob does
	rw := int(float64(width) * lb.Scale)
	rh := int(float64(height) * lb.Scale)
	lb.PadX = (size - rw) / 2
	lb.PadY = (size - rh) / 2
	return lb
}

// Invert maps a box from model input coordinates back onto the source image.
func (lb Letterbox) Invert(b Box) Box {
	px, py := float64(lb.PadX), float64(lb.PadY)
	out := Box{
		X1: (b.X1 - px) / lb.Scale,
		Y1: (b.Y1 - py) / lb.Scale,
		X2: (b.X2 - px) / lb.Scale,
		Y2: (b.Y2 - py) / lb.Scale,
	}
	return out.Clamp(lb.Width, lb.Height)
}
