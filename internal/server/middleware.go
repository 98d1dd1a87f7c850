package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpromonet/gin-detect/internal/config"
)

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		fields := []zap.Field{
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", ctx.ClientIP()),
		}
		if len(ctx.Errors) > 0 {
			fields = append(fields, zap.String("errors", ctx.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(ctx *gin.Context, err any) {
		logger.Error("panic", zap.Any("error", err), zap.String("path", ctx.Request.URL.Path))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal Server Error"})
	})
}

// cors allows the configured origins; "*" allows any. Preflights get the
// requested method and headers echoed back. With credentials enabled the
// request origin is reflected instead of "*".
func cors(cfg config.Server) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")
		if allow := allowedOrigin(cfg.AllowOrigins, origin); allow != "" {
			if allow == "*" && cfg.AllowCredentials && origin != "" {
				allow = origin
			}
			ctx.Header("Access-Control-Allow-Origin", allow)
			if allow != "*" {
				ctx.Header("Vary", "Origin")
			}
			if cfg.AllowCredentials {
				ctx.Header("Access-Control-Allow-Credentials", "true")
			}

			methods := ctx.GetHeader("Access-Control-Request-Method")
			if methods == "" {
				methods = "GET, POST, OPTIONS"
			}
			ctx.Header("Access-Control-Allow-Methods", methods)

			headers := ctx.GetHeader("Access-Control-Request-Headers")
			if headers == "" {
				headers = "Content-Type"
			}
			ctx.Header("Access-Control-Allow-Headers", headers)
		}

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		ctx.Next()
	}
}

func allowedOrigin(origins []string, origin string) string {
	if slices.Contains(origins, "*") {
		return "*"
	}
	if origin != "" && slices.Contains(origins, origin) {
		return origin
	}
	return ""
}
