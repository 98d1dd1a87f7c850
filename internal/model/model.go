// Package model loads pretrained detectors through native runtimes: OpenCV DNN
// for ONNX exports and TensorFlow Lite for .tflite exports.
package model

import (
	"fmt"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/gin-detect/internal/config"
	"github.com/mpromonet/gin-detect/internal/detect"
)

// New builds the backend named by cfg.Backend.
func New(cfg config.Model, labels []string, logger *zap.Logger) (detect.Detector, error) {
	layout, err := detect.ParseLayout(cfg.Layout)
	if err != nil {
		return nil, err
	}
	logger = logger.Named("model")

	switch cfg.Backend {
	case config.BackendONNX:
		if layout == detect.LayoutSSD {
			return nil, fmt.Errorf("%w: ssd outputs need the tflite backend", detect.ErrUnknownLayout)
		}
		return NewOnnx(cfg, layout, labels, logger)
	case config.BackendTFLite:
		return NewTflite(cfg, layout, labels, logger)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// filterOutput runs per-class non-max suppression and drops empty boxes.
func filterOutput(candidates []detect.Candidate, opts detect.Options) []detect.Candidate {
	var kept []detect.Candidate
	for _, group := range detect.GroupByClass(candidates) {
		bboxes := make([]image.Rectangle, 0, len(group))
		confidences := make([]float32, 0, len(group))
		members := make([]int, 0, len(group))
		for _, i := range group {
			if candidates[i].Box.Empty() {
				continue
			}
			bboxes = append(bboxes, candidates[i].Box.Rect())
			confidences = append(confidences, candidates[i].Score)
			members = append(members, i)
		}
		if len(bboxes) == 0 {
			continue
		}

		indices := gocv.NMSBoxes(bboxes, confidences, opts.Confidence, opts.IoU)
		for _, idx := range indices {
			if idx >= 0 && idx < len(members) {
				kept = append(kept, candidates[members[idx]])
			}
		}
	}
	return kept
}

func copySlice(f []float32) []float32 {
	ff := make([]float32, len(f))
	copy(ff, f)
	return ff
}
