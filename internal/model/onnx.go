package model

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/gin-detect/internal/config"
	"github.com/mpromonet/gin-detect/internal/detect"
)

const (
	ratio = 0.003921568627
	// ImageToMatRGB lays pixels out as BGR, the exports expect RGB.
	swapRGB = true
)

// Onnx runs ONNX exports with the OpenCV DNN module.
type Onnx struct {
	net         gocv.Net
	outputNames []string
	size        int
	layout      detect.Layout
	maxDet      int
	labels      []string
	device      string
	logger      *zap.Logger
}

func NewOnnx(cfg config.Model, layout detect.Layout, labels []string, logger *zap.Logger) (*Onnx, error) {
	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, fmt.Errorf("cannot load model %s", cfg.Path)
	}

	device := config.DeviceCPU
	if cfg.Device == config.DeviceCUDA {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
		device = config.DeviceCUDA
	} else {
		net.SetPreferableBackend(gocv.NetBackendOpenCV)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	outputNames := getOutputNames(&net)
	if len(outputNames) == 0 {
		net.Close()
		return nil, fmt.Errorf("model %s has no output layers", cfg.Path)
	}

	logger.Info("onnx model loaded",
		zap.String("path", cfg.Path),
		zap.String("device", device),
		zap.Strings("outputs", outputNames),
		zap.Int("input_size", cfg.InputSize),
	)

	return &Onnx{
		net:         net,
		outputNames: outputNames,
		size:        cfg.InputSize,
		layout:      layout,
		maxDet:      cfg.MaxDetections,
		labels:      labels,
		device:      device,
		logger:      logger,
	}, nil
}

func (m *Onnx) Detect(_ context.Context, img image.Image, opts detect.Options) ([]detect.Prediction, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer src.Close()

	params := gocv.NewImageToBlobParams(
		ratio,
		image.Pt(m.size, m.size),
		gocv.NewScalar(0, 0, 0, 0),
		swapRGB,
		gocv.MatTypeCV32F,
		gocv.DataLayoutNCHW,
		gocv.PaddingModeLetterbox,
		gocv.NewScalar(114, 114, 114, 0),
	)
	blob := gocv.BlobFromImageWithParams(src, params)
	defer blob.Close()

	m.net.SetInput(blob, "")

	probs := m.net.ForwardLayers(m.outputNames)
	defer func() {
		for _, prob := range probs {
			prob.Close()
		}
	}()

	outputs := make([]detect.Tensor, 0, len(probs))
	for _, prob := range probs {
		data, err := prob.DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("read output: %w", err)
		}
		outputs = append(outputs, detect.Tensor{Data: copySlice(data), Shape: prob.Size()})
	}

	post := detect.YoloPostProcessing{Layout: m.layout, Logger: m.logger}
	candidates, err := post.Extract(outputs, opts.Confidence)
	if err != nil {
		return nil, err
	}

	lb := detect.NewLetterbox(src.Cols(), src.Rows(), m.size)
	for i := range candidates {
		candidates[i].Box = lb.Invert(candidates[i].Box)
	}

	kept := filterOutput(candidates, opts)
	m.logger.Debug("onnx detect",
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(kept)),
	)
	return detect.Finalize(kept, m.maxDet, m.labels), nil
}

func (m *Onnx) Device() string {
	return m.device
}

func (m *Onnx) Close() error {
	return m.net.Close()
}

func getOutputNames(net *gocv.Net) []string {
	var outputLayers []string
	for _, i := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(i)
		layerName := layer.GetName()
		layer.Close()
		if layerName != "_input" {
			outputLayers = append(outputLayers, layerName)
		}
	}
	return outputLayers
}
