package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetterboxGeometry(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		scale      float64
		padX, padY int
	}{
		{"landscape", 1280, 720, 0.5, 0, 140},
		{"portrait", 320, 640, 1, 160, 0},
		{"square", 640, 640, 1, 0, 0},
		{"upscale", 160, 80, 4, 0, 160},
		{"truncated", 600, 308, 640.0 / 600, 0, 156},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLetterbox(tt.w, tt.h, 640)
			assert.InDelta(t, tt.scale, lb.Scale, 1e-9)
			assert.Equal(t, tt.padX, lb.PadX)
			assert.Equal(t, tt.padY, lb.PadY)
		})
	}
}

func TestLetterboxInvert(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640)
	got := lb.Invert(Box{X1: 100, Y1: 240, X2: 300, Y2: 340})
	assert.Equal(t, Box{X1: 200, Y1: 200, X2: 600, Y2: 400}, got)

	clamped := lb.Invert(Box{X1: -10, Y1: 100, X2: 700, Y2: 600})
	assert.Equal(t, Box{X1: 0, Y1: 0, X2: 1280, Y2: 720}, clamped)
}

func TestLetterboxDegenerate(t *testing.T) {
	lb := NewLetterbox(0, 10, 640)
	assert.Equal(t, 1.0, lb.Scale)
}

func TestBoxRect(t *testing.T) {
	b := Box{X1: 1.4, Y1: 1.6, X2: 10.5, Y2: 20}
	assert.Equal(t, image.Rect(1, 2, 11, 20), b.Rect())
	assert.False(t, b.Empty())
	assert.True(t, Box{X1: 5, X2: 5, Y2: 1}.Empty())
}
