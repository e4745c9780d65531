package http

import (
	"net/http"
	"strings"
	"time"
)

// Route labels. Tenant ids are collapsed so the label set stays bounded.
const (
	routeSessions       = "/api/v1/sessions"
	routeSession        = "/api/v1/sessions/{tenant}"
	routeEvents         = "/api/v1/events"
	routeOther          = "other"
	sessionRoutePrefix  = routeSessions + "/"
	sessionRouteSubpath = routeSession + "/"
)

// MetricsMiddleware counts requests by method, route and outcome and times
// them by method and route. /metrics and /health are not recorded. The
// event stream is counted but not timed since it lives as long as the
// client stays subscribed.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			route := routeLabel(r.URL.Path)
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if route != routeEvents {
				metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}
			metrics.RequestsTotal.WithLabelValues(r.Method, route, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// routeLabel maps a request path onto the API route it addresses.
func routeLabel(path string) string {
	switch path {
	case routeSessions, routeEvents:
		return path
	}
	rest, ok := strings.CutPrefix(path, sessionRoutePrefix)
	if !ok || rest == "" {
		return routeOther
	}
	_, tail, found := strings.Cut(rest, "/")
	if !found {
		return routeSession
	}
	switch tail {
	case "start", "bootstrap-token", "messages", "messages/batch":
		return sessionRouteSubpath + tail
	}
	return routeOther
}

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working behind this wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
