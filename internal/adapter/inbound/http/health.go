package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

// healthCheckTimeout bounds the credential store probe.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// Pinger is implemented by credential stores that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessions Sessions
	store    credential.Store
	version  string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(sessions Sessions, store credential.Store, version string) *HealthChecker {
	return &HealthChecker{
		sessions: sessions,
		store:    store,
		version:  version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessions != nil {
		checks["sessions"] = fmt.Sprintf("ok: %d known", len(h.sessions.Sessions()))
	} else {
		checks["sessions"] = "not configured"
	}

	switch store := h.store.(type) {
	case nil:
		checks["credential_store"] = "not configured"
	case Pinger:
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := store.Ping(ctx)
		cancel()
		if err != nil {
			checks["credential_store"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["credential_store"] = "ok"
		}
	default:
		checks["credential_store"] = "ok"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
