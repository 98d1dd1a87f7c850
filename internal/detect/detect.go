// Package detect holds the model-independent half of object detection:
// result records, output tensor decoding for the supported export layouts,
// letterbox geometry and the single-goroutine worker that guards a native model.
package detect

import (
	"context"
	"errors"
	"image"
	"strconv"
)

var (
	ErrClosed        = errors.New("detector closed")
	ErrNoOutput      = errors.New("model produced no output")
	ErrUnknownLayout = errors.New("unknown output layout")
)

// Detector runs a pretrained model on one image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, opts Options) ([]Prediction, error)
	// Device names where inference runs: "cpu", "cuda" or "edgetpu".
	Device() string
	Close() error
}

// Options are the per-request thresholds.
type Options struct {
	Confidence float32
	IoU        float32
}

// Prediction is one normalized detection as served to clients.
// Confidence and Class are null when the model output does not carry them.
type Prediction struct {
	XYXY       [4]float64 `json:"xyxy"`
	Confidence *float64   `json:"confidence"`
	Class      *int       `json:"class"`
	Name       string     `json:"name,omitempty"`
}

// Candidate is a decoded box before non-max suppression.
type Candidate struct {
	Box      Box
	Score    float32
	Class    int
	HasClass bool
}

// Tensor is a flat copy of one model output.
type Tensor struct {
	Data  []float32
	Shape []int
}

func (t Tensor) size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// dims returns the shape without leading batch dimensions of size 1.
func (t Tensor) dims() []int {
	d := t.Shape
	for len(d) > 2 && d[0] == 1 {
		d = d[1:]
	}
	return d
}

// widen converts a float32 to the float64 with the same shortest decimal form,
// so 0.9 stays 0.9 in JSON instead of 0.8999999761581421.
func widen(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
