package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/detect"
	"github.com/mpromonet/gin-detect/internal/imaging"
)

const (
	formFile      = "file"
	paramConf     = "conf_threshold"
	paramIoU      = "iou_threshold"
	msgNotImage   = "File must be an image"
	msgTooLarge   = "File too large"
	msgNoFile     = "Field required: file"
	msgDetectFail = "Detection failed"
	msgCanceled   = "Request canceled"

	// statusClientClosed reports a request abandoned by its client.
	statusClientClosed = 499
)

// apiError carries the status code and the client facing detail.
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string {
	return e.detail
}

func newAPIError(status int, format string, args ...any) *apiError {
	return &apiError{status: status, detail: fmt.Sprintf(format, args...)}
}

// upload is a validated, decoded image from a multipart request.
type upload struct {
	filename string
	data     []byte
	img      *image.RGBA
	opts     detect.Options
}

func (r *Server) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "device": r.detector.Device()})
}

func (r *Server) predict(ctx *gin.Context) {
	up, err := r.readUpload(ctx)
	if err != nil {
		r.abort(ctx, err)
		return
	}

	predictions, err := r.detect(ctx.Request.Context(), up.img, up.opts)
	if err != nil {
		r.abort(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

func (r *Server) abort(ctx *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		apiErr = newAPIError(http.StatusInternalServerError, "%s: %v", msgDetectFail, err)
	}
	_ = ctx.Error(err)
	ctx.AbortWithStatusJSON(apiErr.status, gin.H{"detail": apiErr.detail})
}

// readUpload enforces the size limit, then validates the file field, the
// thresholds, the media type and the image itself, in that order.
func (r *Server) readUpload(ctx *gin.Context) (*upload, error) {
	r.metrics.Requests.Add(1)
	up, err := r.parseUpload(ctx)
	if err != nil {
		r.metrics.Rejected.Add(1)
		return nil, err
	}
	return up, nil
}

func (r *Server) parseUpload(ctx *gin.Context) (*upload, error) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, r.cfg.Server.MaxUploadBytes)

	fh, err := ctx.FormFile(formFile)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, newAPIError(http.StatusRequestEntityTooLarge, msgTooLarge)
		}
		return nil, newAPIError(http.StatusUnprocessableEntity, msgNoFile)
	}

	opts, err := r.options(ctx)
	if err != nil {
		return nil, err
	}

	data, err := readFile(fh)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "Could not read file: %v", err)
	}

	if _, err := imaging.Sniff(fh.Header.Get("Content-Type"), data); err != nil {
		return nil, newAPIError(http.StatusBadRequest, msgNotImage)
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "Could not open image: %v", err)
	}

	return &upload{filename: fh.Filename, data: data, img: img, opts: opts}, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// options reads thresholds from the query string, then the form, falling
// back to the configured defaults.
func (r *Server) options(ctx *gin.Context) (detect.Options, error) {
	conf, err := threshold(ctx, paramConf, r.cfg.Detect.ConfThreshold)
	if err != nil {
		return detect.Options{}, err
	}
	iou, err := threshold(ctx, paramIoU, r.cfg.Detect.IoUThreshold)
	if err != nil {
		return detect.Options{}, err
	}
	return detect.Options{Confidence: conf, IoU: iou}, nil
}

func threshold(ctx *gin.Context, key string, def float32) (float32, error) {
	raw, ok := ctx.GetQuery(key)
	if !ok {
		raw, ok = ctx.GetPostForm(key)
	}
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil || math.IsNaN(v) {
		return 0, newAPIError(http.StatusUnprocessableEntity, "%s must be a number, got %q", key, raw)
	}
	if v < 0 || v > 1 {
		return 0, newAPIError(http.StatusUnprocessableEntity, "%s must be between 0 and 1, got %v", key, v)
	}
	return float32(v), nil
}

func (r *Server) detect(ctx context.Context, img image.Image, opts detect.Options) ([]detect.Prediction, error) {
	start := time.Now()
	predictions, err := r.detector.Detect(ctx, img, opts)
	if err != nil {
		if errors.Is(err, detect.ErrClosed) {
			return nil, newAPIError(http.StatusServiceUnavailable, "%s: %v", msgDetectFail, err)
		}
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("detect canceled", zap.Error(err))
			return nil, newAPIError(statusClientClosed, msgCanceled)
		}
		r.logger.Error("detect", zap.Error(err))
		return nil, err
	}
	r.metrics.ObserveInference(time.Since(start), len(predictions))
	if predictions == nil {
		predictions = []detect.Prediction{}
	}
	return predictions, nil
}
