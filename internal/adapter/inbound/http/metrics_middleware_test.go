package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func serveThroughMetrics(t *testing.T, metrics *Metrics, status int, method, path string) {
	t.Helper()
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
}

func histogramCount(t *testing.T, metrics *Metrics, method, route string) uint64 {
	t.Helper()
	obs, err := metrics.RequestDuration.GetMetricWithLabelValues(method, route)
	if err != nil {
		t.Fatal(err)
	}
	var m dto.Metric
	if err := obs.(prometheus.Histogram).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func counterValue(t *testing.T, metrics *Metrics, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.RequestsTotal.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsMiddleware_RecordsDurationByRoute(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodPost, "/api/v1/sessions/s1/messages")
	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodPost, "/api/v1/sessions/s2/messages")

	if got := histogramCount(t, metrics, "POST", "/api/v1/sessions/{tenant}/messages"); got != 2 {
		t.Errorf("observations = %d, want 2", got)
	}
}

func TestMetricsMiddleware_RecordsRequestCount(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodGet, "/api/v1/sessions")

	if got := counterValue(t, metrics, "GET", "/api/v1/sessions", "ok"); got != 1 {
		t.Errorf("count = %f, want 1", got)
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	serveThroughMetrics(t, metrics, http.StatusInternalServerError, http.MethodDelete, "/api/v1/sessions/s1")

	if got := counterValue(t, metrics, "DELETE", "/api/v1/sessions/{tenant}", "error"); got != 1 {
		t.Errorf("count = %f, want 1", got)
	}
}

func TestMetricsMiddleware_EventStreamNotTimed(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodGet, "/api/v1/events")

	if got := histogramCount(t, metrics, "GET", "/api/v1/events"); got != 0 {
		t.Errorf("observations = %d, want 0", got)
	}
	if got := counterValue(t, metrics, "GET", "/api/v1/events", "ok"); got != 1 {
		t.Errorf("count = %f, want 1", got)
	}
}

func TestMetricsMiddleware_SkipsHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodGet, "/metrics")
	serveThroughMetrics(t, metrics, http.StatusOK, http.MethodGet, "/health")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "metricon_http_requests_total", "metricon_http_request_duration_seconds":
			if n := len(mf.GetMetric()); n != 0 {
				t.Errorf("%s has %d series, want 0", mf.GetName(), n)
			}
		}
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/sessions", "/api/v1/sessions"},
		{"/api/v1/events", "/api/v1/events"},
		{"/api/v1/sessions/s1", "/api/v1/sessions/{tenant}"},
		{"/api/v1/sessions/s1/start", "/api/v1/sessions/{tenant}/start"},
		{"/api/v1/sessions/s1/bootstrap-token", "/api/v1/sessions/{tenant}/bootstrap-token"},
		{"/api/v1/sessions/s1/messages/batch", "/api/v1/sessions/{tenant}/messages/batch"},
		{"/api/v1/sessions/s1/unknown", "other"},
		{"/api/v1/sessions/", "other"},
		{"/", "other"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
