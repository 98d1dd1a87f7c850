package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/detect"
	"github.com/mpromonet/gin-detect/internal/imaging"
)

// remoteResult is the per-frame record streamed over /ws. Box is
// [y1, x1, y2, x2] normalized to the frame size.
type remoteResult struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
}

// ws streams detections for encoded frames sent as binary messages. A bad
// frame gets an error reply and the connection stays open.
func (r *Server) ws(ctx *gin.Context) {
	opts, err := r.options(ctx)
	if err != nil {
		r.abort(ctx, err)
		return
	}

	conn, err := r.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(r.cfg.Server.MaxUploadBytes)

	r.metrics.ActiveClients.Add(1)
	defer r.metrics.ActiveClients.Add(-1)

	logger := r.logger.With(zap.String("client", ctx.ClientIP()))
	logger.Info("websocket connected")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read", zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			if err := writeWSError(conn, "expected a binary image frame"); err != nil {
				return
			}
			continue
		}

		r.metrics.Requests.Add(1)
		img, _, err := imaging.Decode(msg)
		if err != nil {
			r.metrics.Rejected.Add(1)
			if err := writeWSError(conn, "Could not open image: "+err.Error()); err != nil {
				return
			}
			continue
		}

		predictions, err := r.detect(ctx.Request.Context(), img, opts)
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.status == http.StatusServiceUnavailable {
				_ = writeWSError(conn, apiErr.detail)
				return
			}
			if err := writeWSError(conn, msgDetectFail+": "+err.Error()); err != nil {
				return
			}
			continue
		}

		b := img.Bounds()
		if err := conn.WriteJSON(toRemote(predictions, b.Dx(), b.Dy())); err != nil {
			logger.Warn("websocket write", zap.Error(err))
			return
		}
	}
}

func writeWSError(conn *websocket.Conn, msg string) error {
	return conn.WriteJSON(gin.H{"error": msg})
}

func toRemote(predictions []detect.Prediction, width, height int) []remoteResult {
	w, h := float32(width), float32(height)
	out := make([]remoteResult, 0, len(predictions))
	for _, p := range predictions {
		res := remoteResult{
			Label: p.Name,
			Box: []float32{
				float32(p.XYXY[1]) / h,
				float32(p.XYXY[0]) / w,
				float32(p.XYXY[3]) / h,
				float32(p.XYXY[2]) / w,
			},
		}
		if res.Label == "" && p.Class != nil {
			res.Label = strconv.Itoa(*p.Class)
		}
		if p.Confidence != nil {
			res.Confidence = float32(*p.Confidence)
		}
		out = append(out, res)
	}
	return out
}
