package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := APIKeyNameFromContext(r.Context()); ok {
			w.Header().Set("X-Key-Name", name)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	keys, err := auth.NewKeyring([]auth.APIKey{{Name: "ci", Hash: "sha256:" + auth.Digest("secret")}})
	if err != nil {
		t.Fatal(err)
	}
	handler := APIKeyMiddleware(keys)(okHandler())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantName   string
	}{
		{"valid key", "Bearer secret", http.StatusOK, "ci"},
		{"wrong key", "Bearer nope", http.StatusUnauthorized, ""},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic c2VjcmV0", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Key-Name"); got != tt.wantName {
				t.Errorf("key name = %q, want %q", got, tt.wantName)
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestAPIKeyMiddleware_NoKeysIsOpen(t *testing.T) {
	for _, keys := range []*auth.Keyring{nil, mustKeyring(t)} {
		rec := httptest.NewRecorder()
		APIKeyMiddleware(keys)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	}
}

func mustKeyring(t *testing.T, keys ...auth.APIKey) *auth.Keyring {
	t.Helper()
	k, err := auth.NewKeyring(keys)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestDNSRebindingProtection(t *testing.T) {
	handler := DNSRebindingProtection([]string{"https://ops.example"})(okHandler())

	for _, tc := range []struct {
		origin string
		want   int
	}{
		{"", http.StatusOK},
		{"https://ops.example", http.StatusOK},
		{"https://evil.example", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("origin %q: status = %d, want %d", tc.origin, rec.Code, tc.want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
		if LoggerFromContext(r.Context()) == nil {
			t.Error("no logger in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("request id = %q, header %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-42" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestExtractRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:5000", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": " 203.0.113.8 "}, "10.0.0.1:5000", "203.0.113.8"},
		{"remote addr", nil, "192.0.2.1:4321", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractRealIP(req); got != tt.want {
				t.Errorf("extractRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
