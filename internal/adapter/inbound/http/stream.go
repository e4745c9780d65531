package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
)

// streamBuffer is how many inbound messages an SSE client may fall behind
// before the fan-out waits for it.
const streamBuffer = 64

// streamRegistry tracks open SSE streams so shutdown can end them.
// Server.Shutdown alone would wait for them until its deadline.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[chan struct{}]struct{}
	closed  bool
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[chan struct{}]struct{})}
}

// register returns a channel closed when the registry shuts down, or false
// if it already has.
func (r *streamRegistry) register() (chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	done := make(chan struct{})
	r.streams[done] = struct{}{}
	return done, true
}

func (r *streamRegistry) unregister(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[done]; ok {
		delete(r.streams, done)
		close(done)
	}
}

func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for done := range r.streams {
		close(done)
	}
	r.streams = make(map[chan struct{}]struct{})
}

func (r *streamRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// handleEvents streams inbound messages as server-sent events. The optional
// tenant query parameter limits the stream to one tenant.
func (h *apiHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant != "" {
		if err := session.ValidateTenant(tenant); err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	done, ok := h.streams.register()
	if !ok {
		respondError(w, r, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer h.streams.unregister(done)

	ctx := r.Context()
	msgs := make(chan chat.InboundMessage, streamBuffer)
	unsubscribe := h.sessions.Subscribe(func(m chat.InboundMessage) {
		if tenant != "" && m.Tenant != tenant {
			return
		}
		select {
		case msgs <- m:
		case <-done:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	logger := LoggerFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case m := <-msgs:
			data, err := json.Marshal(m)
			if err != nil {
				logger.Warn("failed to encode inbound message", "tenant", m.Tenant, "error", err)
				continue
			}
			if m.ID != "" {
				_, _ = fmt.Fprintf(w, "id: %s\n", m.ID)
			}
			_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
