package model

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/gin-detect/internal/config"
	"github.com/mpromonet/gin-detect/internal/detect"
)

// Tflite runs .tflite exports, optionally on an Edge TPU.
type Tflite struct {
	model    *tflite.Model
	interp   *tflite.Interpreter
	delegate delegates.Delegater
	layout   detect.Layout
	maxDet   int
	labels   []string
	device   string
	logger   *zap.Logger
}

func NewTflite(cfg config.Model, layout detect.Layout, labels []string, logger *zap.Logger) (*Tflite, error) {
	model := tflite.NewModelFromFile(cfg.Path)
	if model == nil {
		return nil, fmt.Errorf("cannot load model %s", cfg.Path)
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()

	options.SetNumThread(cfg.Threads)

	device := config.DeviceCPU
	var delegate delegates.Delegater
	if cfg.EdgeTPU {
		devices, err := edgetpu.DeviceList()
		if err != nil {
			logger.Warn("could not list edge TPU devices", zap.Error(err))
		}
		if len(devices) == 0 {
			logger.Warn("no edge TPU devices found, running on cpu")
		} else {
			delegate = edgetpu.New(devices[0])
			options.AddDelegate(delegate)
			device = config.DeviceEdgeTPU
		}
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.New("cannot create interpreter")
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("allocate tensors: %v", status)
	}

	input := interpreter.GetInputTensor(0)
	logger.Info("tflite model loaded",
		zap.String("path", cfg.Path),
		zap.String("device", device),
		zap.Ints("input_shape", getTensorShape(input)),
		zap.Int("outputs", interpreter.GetOutputTensorCount()),
	)

	return &Tflite{
		model:    model,
		interp:   interpreter,
		delegate: delegate,
		layout:   layout,
		maxDet:   cfg.MaxDetections,
		labels:   labels,
		device:   device,
		logger:   logger,
	}, nil
}

func (m *Tflite) Detect(_ context.Context, img image.Image, opts detect.Options) ([]detect.Prediction, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer bgr.Close()

	src := gocv.NewMat()
	defer src.Close()
	gocv.CvtColor(bgr, &src, gocv.ColorBGRToRGB)

	count := m.interp.GetOutputTensorCount()
	layout := m.layout
	if layout == detect.LayoutAuto && count > 1 {
		layout = detect.LayoutSSD
	}

	// fill input tensor
	if err := fillInput(m.interp.GetInputTensor(0), src, layout); err != nil {
		return nil, err
	}

	// inference
	if status := m.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke failed: %v", status)
	}

	// convert output
	outputs := make([]detect.Tensor, 0, count)
	for idx := 0; idx < count; idx++ {
		outputs = append(outputs, readTensor(m.interp.GetOutputTensor(idx)))
	}

	// exports are normalized and the input was stretched, so scale by image size
	width, height := src.Cols(), src.Rows()
	post, err := detect.NewPostProcessing(layout, float64(width), float64(height), m.logger)
	if err != nil {
		return nil, err
	}
	candidates, err := post.Extract(outputs, opts.Confidence)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Box = candidates[i].Box.Clamp(width, height)
	}

	// NMS
	kept := filterOutput(candidates, opts)
	m.logger.Debug("tflite detect",
		zap.String("layout", string(layout)),
		zap.Int("candidates", len(candidates)),
		zap.Int("kept", len(kept)),
	)
	return detect.Finalize(kept, m.maxDet, m.labels), nil
}

func (m *Tflite) Device() string {
	return m.device
}

func (m *Tflite) Close() error {
	m.interp.Delete()
	m.model.Delete()
	if m.delegate != nil {
		m.delegate.Delete()
	}
	return nil
}

func getTensorShape(tensor *tflite.Tensor) []int {
	shape := []int{}
	for idx := 0; idx < tensor.NumDims(); idx++ {
		shape = append(shape, tensor.Dim(idx))
	}
	return shape
}

// fillInput resizes img into the input tensor, normalizing float inputs
// for layout.
func fillInput(input *tflite.Tensor, img gocv.Mat, layout detect.Layout) error {
	wantedHeight := input.Dim(1)
	wantedWidth := input.Dim(2)
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(wantedWidth, wantedHeight), 0, 0, gocv.InterpolationDefault)

	switch input.Type() {
	case tflite.UInt8:
		v, err := resized.DataPtrUint8()
		if err != nil {
			return fmt.Errorf("read input pixels: %w", err)
		}
		copy(input.UInt8s(), v)
	case tflite.Float32:
		converted := gocv.NewMat()
		defer converted.Close()
		resized.ConvertTo(&converted, gocv.MatTypeCV32F)
		v, err := converted.DataPtrFloat32()
		if err != nil {
			return fmt.Errorf("read input pixels: %w", err)
		}
		dst := input.Float32s()
		for i := 0; i < len(dst) && i < len(v); i++ {
			dst[i] = detect.NormalizePixel(v[i], layout)
		}
	default:
		return fmt.Errorf("unsupported input tensor type %v", input.Type())
	}
	return nil
}

// readTensor copies an output tensor to float32, de-quantizing uint8 outputs.
func readTensor(output *tflite.Tensor) detect.Tensor {
	var loc []float32
	switch output.Type() {
	case tflite.UInt8:
		q := output.QuantizationParams()
		f := output.UInt8s()
		loc = make([]float32, len(f))
		for i, v := range f {
			if q.Scale == 0 {
				loc[i] = float32(v) / 255
				continue
			}
			loc[i] = float32(q.Scale * float64(int(v)-q.ZeroPoint))
		}
	case tflite.Float32:
		loc = copySlice(output.Float32s())
	}
	return detect.Tensor{Data: loc, Shape: getTensorShape(output)}
}
