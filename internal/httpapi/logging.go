package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(log logger.ILogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/realtime/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		duration := time.Since(start)

		metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), writer.status, duration)
		log.Info("request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", writer.status),
			logger.Duration("duration", duration),
			logger.String("request_id", requestIDFromRequest(r)),
		)
	})
}

// routeLabel collapses ids and coordinates so the metric label set stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/search/") {
		return "/api/search/{coordinates}"
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment != "" && isDigits(segment) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
