package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/djesus888/Tapclic-sub000/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// knownPaths is the relay's static route set. Anything else (scanner noise,
// typos) collapses to one label so metric cardinality stays bounded.
var knownPaths = map[string]bool{
	"/":              true,
	"/health":        true,
	"/stats":         true,
	"/metrics":       true,
	"/notifications": true,
	"/events":        true,
}

func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "unknown"
}
