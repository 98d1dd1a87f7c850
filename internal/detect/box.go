package detect

import (
	"image"
	"math"
)

// Box is an axis aligned rectangle in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func centerBox(cx, cy, w, h float32, sx, sy float64) Box {
	x, y := float64(cx)*sx, float64(cy)*sy
	hw, hh := float64(w)*sx/2, float64(h)*sy/2
	return Box{X1: x - hw, Y1: y - hh, X2: x + hw, Y2: y + hh}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Clamp restricts the box to [0,w]x[0,h].
func (b Box) Clamp(w, h int) Box {
	fw, fh := float64(w), float64(h)
	return Box{
		X1: clamp(b.X1, 0, fw),
		Y1: clamp(b.Y1, 0, fh),
		X2: clamp(b.X2, 0, fw),
		Y2: clamp(b.Y2, 0, fh),
	}
}

// Rect rounds the box to integer pixels, as needed by gocv.NMSBoxes.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)), int(math.Round(b.Y1)),
		int(math.Round(b.X2)), int(math.Round(b.Y2)),
	)
}

func (b Box) xyxy() [4]float64 {
	return [4]float64{round2(b.X1), round2(b.Y1), round2(b.X2), round2(b.Y2)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
