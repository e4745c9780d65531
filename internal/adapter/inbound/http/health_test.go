package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sayan19951995/metricon-sub002/internal/adapter/outbound/memory"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
)

// pingStore is a credential store whose backend probe can fail.
type pingStore struct {
	*memory.CredentialStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestHealthChecker_Healthy(t *testing.T) {
	fs := newFakeSessions()
	fs.snapshots["s1"] = session.Snapshot{Tenant: "s1", Status: session.StatusConnected}
	hc := NewHealthChecker(fs, pingStore{CredentialStore: memory.NewCredentialStore()}, "test-version")

	health := hc.Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q", health.Version)
	}
	if health.Checks["sessions"] != "ok: 1 known" {
		t.Errorf("sessions check = %q", health.Checks["sessions"])
	}
	if health.Checks["credential_store"] != "ok" {
		t.Errorf("credential_store check = %q", health.Checks["credential_store"])
	}
	if health.Checks["goroutines"] == "" || health.Checks["goroutines"] == "0" {
		t.Errorf("goroutines check = %q", health.Checks["goroutines"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	health := NewHealthChecker(nil, nil, "").Check(context.Background())
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	for _, name := range []string{"sessions", "credential_store"} {
		if health.Checks[name] != "not configured" {
			t.Errorf("%s = %q, want 'not configured'", name, health.Checks[name])
		}
	}
}

func TestHealthChecker_StoreWithoutPing(t *testing.T) {
	health := NewHealthChecker(nil, memory.NewCredentialStore(), "").Check(context.Background())
	if health.Checks["credential_store"] != "ok" {
		t.Errorf("credential_store = %q, want ok", health.Checks["credential_store"])
	}
}

func TestHealthChecker_Handler_Unhealthy503(t *testing.T) {
	store := pingStore{CredentialStore: memory.NewCredentialStore(), err: errors.New("connection refused")}
	hc := NewHealthChecker(nil, store, "1.0.0")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "unhealthy" || resp.Checks["credential_store"] != "unhealthy: connection refused" {
		t.Errorf("response = %+v", resp)
	}
}
