/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package detect

import (
	"fmt"

	"go.uber.org/zap"
)

// PostProcessing turns raw output tensors into candidates above scoreTh.
type PostProcessing interface {
	Extract(outputs []Tensor, scoreTh float32) ([]Candidate, error)
}

// Layout selects how output tensors are read.
type Layout string

const (
	LayoutAuto Layout = "auto"
	// LayoutV5 is [1, N, 5+C]: cx, cy, w, h, objectness, class scores.
	LayoutV5 Layout = "v5"
	// LayoutV8 is [1, 4+C, N]: cx, cy, w, h, class scores, one column per box.
	LayoutV8 Layout = "v8"
	// LayoutSSD is the post-processed boxes/classes/scores/count tensor set.
	LayoutSSD Layout = "ssd"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case "", LayoutAuto:
		return LayoutAuto, nil
	case LayoutV5, LayoutV8, LayoutSSD:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s)
}

// NewPostProcessing returns the decoder for layout. Box coordinates are
// multiplied by sx and sy, which is 1 for models that emit pixel coordinates.
func NewPostProcessing(layout Layout, sx, sy float64, logger *zap.Logger) (PostProcessing, error) {
	switch layout {
	case LayoutAuto, LayoutV5, LayoutV8:
		return YoloPostProcessing{Layout: layout, ScaleX: sx, ScaleY: sy, Logger: logger}, nil
	case LayoutSSD:
		return SsdPostProcessing{ScaleX: sx, ScaleY: sy}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
}

// NormalizePixel maps a 0..255 channel value to the float input range the
// layout's models were trained with: [-1,1] for SSD, [0,1] for YOLO.
func NormalizePixel(v float32, layout Layout) float32 {
	if layout == LayoutSSD {
		return (v - 127.5) / 127.5
	}
	return v / 255
}

func argmax(f []float32) (int, float32) {
	r, m := 0, f[0]
	for i, v := range f {
		if v > m {
			m = v
			r = i
		}
	}
	return r, m
}

func scale(s float64) float64 {
	if s == 0 {
		return 1
	}
	return s
}
