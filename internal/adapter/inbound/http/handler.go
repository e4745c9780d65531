// Package http provides the HTTP transport adapter for the session manager.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/address"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
	"github.com/Sayan19951995/metricon-sub002/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// maxBatchInterval caps the pacing a client can ask for between batch items.
const maxBatchInterval = time.Minute

// Sessions is the session manager surface served over HTTP.
type Sessions interface {
	StartSession(ctx context.Context, tenant string) (service.StartResult, error)
	Status(tenant string) session.Snapshot
	BootstrapToken(tenant string) (string, bool)
	SendMessage(ctx context.Context, tenant, to, body string) (bool, error)
	SendBatch(ctx context.Context, tenant string, items []chat.OutgoingMessage, interval time.Duration) ([]bool, error)
	Disconnect(ctx context.Context, tenant string) error
	Sessions() []session.Snapshot
	Subscribe(listener service.InboundListener) (unsubscribe func())
}

// Compile-time check that the manager satisfies Sessions.
var _ Sessions = (*service.SessionManager)(nil)

// SessionResponse is the JSON form of a session snapshot.
type SessionResponse struct {
	Tenant         string         `json:"tenant"`
	Status         session.Status `json:"status"`
	BootstrapToken *string        `json:"bootstrap_token"`
	ConnectedSince *time.Time     `json:"connected_since,omitempty"`
	IdleDeadline   *time.Time     `json:"idle_deadline,omitempty"`
	RetryAt        *time.Time     `json:"retry_at,omitempty"`
}

// StartResponse is returned by the start route.
type StartResponse struct {
	Status         session.Status `json:"status"`
	BootstrapToken *string        `json:"bootstrap_token"`
}

// TokenResponse is returned by the bootstrap-token route.
type TokenResponse struct {
	BootstrapToken *string `json:"bootstrap_token"`
}

// SendRequest is the body of the send route.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SendResponse reports whether a message was handed to the network.
type SendResponse struct {
	Sent bool `json:"sent"`
}

// BatchRequest is the body of the batch route.
type BatchRequest struct {
	Messages   []chat.OutgoingMessage `json:"messages"`
	IntervalMS int64                  `json:"interval_ms"`
}

// BatchResponse holds one result per requested message, in order.
type BatchResponse struct {
	Results []bool `json:"results"`
}

// ListResponse is returned by the list route.
type ListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func toSessionResponse(s session.Snapshot) SessionResponse {
	return SessionResponse{
		Tenant:         s.Tenant,
		Status:         s.Status,
		BootstrapToken: optionalString(s.BootstrapToken),
		ConnectedSince: optionalTime(s.ConnectedSince),
		IdleDeadline:   optionalTime(s.IdleDeadline),
		RetryAt:        optionalTime(s.RetryAt),
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// apiHandler serves /api/v1.
type apiHandler struct {
	sessions Sessions
	streams  *streamRegistry
}

func (h *apiHandler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions", h.handleList)
	mux.HandleFunc("GET /api/v1/sessions/{tenant}", h.handleStatus)
	mux.HandleFunc("DELETE /api/v1/sessions/{tenant}", h.handleDisconnect)
	mux.HandleFunc("POST /api/v1/sessions/{tenant}/start", h.handleStart)
	mux.HandleFunc("GET /api/v1/sessions/{tenant}/bootstrap-token", h.handleBootstrapToken)
	mux.HandleFunc("POST /api/v1/sessions/{tenant}/messages", h.handleSend)
	mux.HandleFunc("POST /api/v1/sessions/{tenant}/messages/batch", h.handleBatch)
	mux.HandleFunc("GET /api/v1/events", h.handleEvents)
	return mux
}

// tenant extracts and validates the {tenant} path value. It writes the 400
// response itself when the id is invalid.
func (h *apiHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.PathValue("tenant")
	if err := session.ValidateTenant(tenant); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	return tenant, true
}

func (h *apiHandler) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := h.sessions.Sessions()
	resp := ListResponse{Sessions: make([]SessionResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	respondJSON(w, r, http.StatusOK, resp)
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, toSessionResponse(h.sessions.Status(tenant)))
}

func (h *apiHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	res, err := h.sessions.StartSession(r.Context(), tenant)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, StartResponse{
		Status:         res.Status,
		BootstrapToken: optionalString(res.BootstrapToken),
	})
}

func (h *apiHandler) handleBootstrapToken(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var resp TokenResponse
	if token, ok := h.sessions.BootstrapToken(tenant); ok {
		resp.BootstrapToken = &token
	}
	respondJSON(w, r, http.StatusOK, resp)
}

func (h *apiHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sent, err := h.sessions.SendMessage(r.Context(), tenant, req.To, req.Body)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, SendResponse{Sent: sent})
}

func (h *apiHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req BatchRequest
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	if interval < 0 || interval > maxBatchInterval {
		respondError(w, r, http.StatusBadRequest, fmt.Sprintf("interval_ms must be between 0 and %d", maxBatchInterval.Milliseconds()))
		return
	}
	results, err := h.sessions.SendBatch(r.Context(), tenant, req.Messages, interval)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []bool{}
	}
	respondJSON(w, r, http.StatusOK, BatchResponse{Results: results})
}

func (h *apiHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Disconnect(r.Context(), tenant); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readJSON decodes a size-limited request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errors.New("request body too large (max 1MB)")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// respondServiceError maps manager errors to status codes. Contract
// violations are the caller's fault; anything else is ours.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidTenant), errors.Is(err, address.ErrInvalidAddress):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrManagerClosed):
		respondError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, err.Error())
	default:
		LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		LoggerFromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, ErrorResponse{Error: message})
}
