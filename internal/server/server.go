package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/config"
	"github.com/mpromonet/gin-detect/internal/detect"
	"github.com/mpromonet/gin-detect/internal/metrics"
	"github.com/mpromonet/gin-detect/internal/storage"
)

//go:embed web
var webFS embed.FS

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      *config.Config
	detector detect.Detector
	store    *storage.Store
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	engine   *gin.Engine
	logger   *zap.Logger
}

func NewServer(cfg *config.Config, detector detect.Detector, store *storage.Store, m *metrics.Metrics, logger *zap.Logger) *Server {
	r := &Server{
		cfg:      cfg,
		detector: detector,
		store:    store,
		metrics:  m,
		logger:   logger.Named("server"),
	}
	r.upgrader = websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			origin := req.Header.Get("Origin")
			return origin == "" || allowedOrigin(cfg.Server.AllowOrigins, origin) != ""
		},
	}
	r.engine = r.newAPI()
	return r
}

// Handler exposes the routes without starting a listener.
func (r *Server) Handler() http.Handler {
	return r.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (r *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         r.cfg.Server.Addr(),
		Handler:      r.engine,
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("listening", zap.String("addr", srv.Addr), zap.String("device", r.detector.Device()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		r.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (r *Server) newAPI() *gin.Engine {
	eng := gin.New()
	eng.MaxMultipartMemory = r.cfg.Server.MaxUploadBytes

	eng.Use(recovery(r.logger), requestLogger(r.logger), cors(r.cfg.Server))
	eng.SetHTMLTemplate(template.Must(template.New("").ParseFS(webFS, "web/templates/*.html")))

	eng.Use(static.Serve("/uploads", static.LocalFile(r.store.Dir(), false)))
	eng.StaticFS("/static", http.FS(mustSub(webFS, "web/static")))

	eng.GET("/health", r.health)
	eng.POST("/predict", r.predict)
	eng.GET("/ws", r.ws)
	eng.GET("/metrics", gin.WrapH(r.metrics.Handler()))

	eng.GET("/", r.index)
	eng.POST("/upload", r.upload)

	return eng
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
