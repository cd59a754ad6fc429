package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HTTPLoggerConfig holds configuration for HTTP logging.
type HTTPLoggerConfig struct {
	// LogLevel is the log level for successful (2xx/3xx) requests.
	LogLevel slog.Level
}

// StructuredLogger logs requests with slog at DEBUG for 2xx/3xx, WARN for
// 4xx, ERROR for 5xx.
func StructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return StructuredLoggerWithConfig(logger, HTTPLoggerConfig{LogLevel: slog.LevelDebug})
}

// StructuredLoggerWithConfig returns a middleware with custom logging configuration.
func StructuredLoggerWithConfig(logger *slog.Logger, config HTTPLoggerConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				duration := time.Since(start)

				if shouldSkipLogging(r.URL.Path) {
					return
				}

				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", duration.Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent(),
				}

				switch {
				case status >= 500:
					logger.Error("http server error", attrs...)
				case status >= 400:
					logger.Warn("http client error", attrs...)
				default:
					logger.Log(r.Context(), config.LogLevel, "http request", attrs...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func shouldSkipLogging(path string) bool {
	noisyPaths := []string{"/health", "/ready", "/favicon.ico"}
	for _, noisy := range noisyPaths {
		if strings.HasPrefix(path, noisy) {
			return true
		}
	}
	return false
}
