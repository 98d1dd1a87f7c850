package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/detect"
	"github.com/mpromonet/gin-detect/internal/imaging"
)

const uploadsPrefix = "/uploads/"

// row is one prediction formatted for the result table.
type row struct {
	Index      int
	Box        string
	Confidence string
	Class      string
	Name       string
}

func (r *Server) index(ctx *gin.Context) {
	ctx.HTML(http.StatusOK, "index.html", r.indexData(""))
}

func (r *Server) indexData(msg string) gin.H {
	return gin.H{
		"error": msg,
		"conf":  r.cfg.Detect.ConfThreshold,
		"iou":   r.cfg.Detect.IoUThreshold,
	}
}

// upload saves the file, runs detection and renders the result page with the
// original and an annotated copy.
func (r *Server) upload(ctx *gin.Context) {
	up, err := r.readUpload(ctx)
	if err != nil {
		r.renderError(ctx, err)
		return
	}

	name, err := r.store.Save(up.filename, up.data)
	if err != nil {
		r.logger.Error("save upload", zap.Error(err))
		r.renderError(ctx, newAPIError(http.StatusInternalServerError, "Could not save file"))
		return
	}
	r.metrics.Uploads.Add(1)

	predictions, err := r.detect(ctx.Request.Context(), up.img, up.opts)
	if err != nil {
		r.renderError(ctx, err)
		return
	}

	annotated := ""
	if jpg, err := imaging.EncodeJPEG(imaging.Annotate(up.img, predictions)); err != nil {
		r.logger.Warn("annotate", zap.Error(err))
	} else {
		annName := strings.TrimSuffix(name, filepath.Ext(name)) + "_annotated.jpg"
		if _, err := r.store.SaveAs(annName, jpg); err != nil {
			r.logger.Warn("save annotated", zap.Error(err))
		} else {
			annotated = uploadsPrefix + annName
		}
	}

	ctx.HTML(http.StatusOK, "result.html", gin.H{
		"filename":    up.filename,
		"image":       uploadsPrefix + name,
		"annotated":   annotated,
		"width":       up.img.Bounds().Dx(),
		"height":      up.img.Bounds().Dy(),
		"conf":        up.opts.Confidence,
		"iou":         up.opts.IoU,
		"device":      r.detector.Device(),
		"predictions": rows(predictions),
	})
}

func (r *Server) renderError(ctx *gin.Context, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		apiErr = newAPIError(http.StatusInternalServerError, "%s: %v", msgDetectFail, err)
	}
	_ = ctx.Error(err)
	ctx.HTML(apiErr.status, "index.html", r.indexData(apiErr.detail))
	ctx.Abort()
}

func rows(predictions []detect.Prediction) []row {
	out := make([]row, 0, len(predictions))
	for i, p := range predictions {
		rw := row{
			Index:      i + 1,
			Box:        fmt.Sprintf("%.1f, %.1f, %.1f, %.1f", p.XYXY[0], p.XYXY[1], p.XYXY[2], p.XYXY[3]),
			Confidence: "-",
			Class:      "-",
			Name:       p.Name,
		}
		if p.Confidence != nil {
			rw.Confidence = fmt.Sprintf("%.3f", *p.Confidence)
		}
		if p.Class != nil {
			rw.Class = fmt.Sprint(*p.Class)
		}
		out = append(out, rw)
	}
	return out
}
