package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/config"
	"github.com/mpromonet/gin-detect/internal/detect"
	"github.com/mpromonet/gin-detect/internal/metrics"
	"github.com/mpromonet/gin-detect/internal/model"
	"github.com/mpromonet/gin-detect/internal/server"
	"github.com/mpromonet/gin-detect/internal/storage"
)

var (
	configPath = flag.String("config", os.Getenv(config.EnvConfigPath), "path to YAML config file")
	modelPath  = flag.String("model", "", "path to model file, overrides the config")
	labelPath  = flag.String("label", "", "path to label file, overrides the config")
)

func newLogger(cfg config.Log) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	flag.Parse()

	cfg := config.MustNew(*configPath)
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *labelPath != "" {
		cfg.Model.Labels = *labelPath
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	var labels []string
	if cfg.Model.Labels != "" {
		var err error
		if labels, err = detect.LoadLabels(cfg.Model.Labels); err != nil {
			logger.Fatal("load labels", zap.String("path", cfg.Model.Labels), zap.Error(err))
		}
	}

	det, err := model.New(cfg.Model, labels, logger)
	if err != nil {
		logger.Fatal("load model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	worker := detect.NewWorker(det, logger)
	defer worker.Close()

	store, err := storage.New(cfg.Upload.Dir)
	if err != nil {
		logger.Fatal("upload dir", zap.String("dir", cfg.Upload.Dir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, worker, store, metrics.New(), logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server", zap.Error(err))
	}
}
