// Package logger builds the service's zap logger and the HTTP request
// logging middleware.
package logger

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Service string
	Version string
}

// New builds a structured zap.Logger and installs it as the global logger.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	if zapCfg.Encoding == "console" {
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log, err := zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "ledgerd"
	}
	log = log.With(zap.String("service", service))
	if v := strings.TrimSpace(cfg.Version); v != "" {
		log = log.With(zap.String("version", v))
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}

// RequestLogger logs one line per HTTP request. It expects chi's RequestID
// middleware to run first.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(started)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				switch {
				case status >= 500:
					log.Error("request", fields...)
				case status >= 400:
					log.Warn("request", fields...)
				default:
					log.Info("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
