package middleware

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// idSegment matches path segments that are identifiers rather than route
// names: UUIDs and purely numeric IDs.
var idSegment = regexp.MustCompile(`^([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[0-9]+)$`)

// staticRoutes are returned unchanged by normalizePath.
var staticRoutes = map[string]bool{
	"/":                true,
	"/v1/feed":         true,
	"/v1/feed/explain": true,
	"/v1/moments":      true,
	"/v1/interests":    true,
	"/health":          true,
	"/ready":           true,
	"/metrics":         true,
}

// normalizePath converts paths with dynamic segments to route patterns to prevent
// cardinality explosion in metrics. /v1/moments/<uuid>/ratings becomes
// /v1/moments/{id}/ratings. Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 3 || parts[1] != "v1" {
		return "other"
	}
	if len(parts) == 4 && parts[2] == "interests" {
		return "/v1/interests/{category}"
	}
	for i := 2; i < len(parts); i++ {
		if idSegment.MatchString(parts[i]) {
			parts[i] = "{id}"
		}
	}
	normalized := strings.Join(parts, "/")

	switch normalized {
	case "/v1/moments/{id}",
		"/v1/moments/{id}/ratings",
		"/v1/moments/{id}/engagement",
		"/v1/follows/{id}":
		return normalized
	}
	return "other"
}

func isProbePath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Probe endpoints (/health, /ready, /metrics) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
