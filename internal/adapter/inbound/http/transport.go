package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
	"github.com/Sayan19951995/metricon-sub002/internal/port/inbound"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// HTTPTransport serves the session API, the inbound event stream, health
// and Prometheus metrics.
type HTTPTransport struct {
	sessions       Sessions
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	keys           *auth.Keyring
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker
	streams        *streamRegistry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithKeyring requires API requests to carry a key from k.
func WithKeyring(k *auth.Keyring) Option {
	return func(t *HTTPTransport) {
		t.keys = k
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics serves reg on /metrics and records request metrics into m.
// m is usually also the session manager's observer.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates an HTTP transport serving sessions.
func NewHTTPTransport(sessions Sessions, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		sessions:       sessions,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		streams:        newStreamRegistry(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(t.registry)
	}
	if t.healthChecker == nil {
		t.healthChecker = NewHealthChecker(sessions, nil, "")
	}
	return t
}

// Handler builds the full route tree.
//
// Middleware order (outermost first): Metrics, RequestID,
// DNSRebinding, APIKey (API routes only).
func (t *HTTPTransport) Handler() http.Handler {
	api := (&apiHandler{sessions: t.sessions, streams: t.streams}).routes()
	api = APIKeyMiddleware(t.keys)(api)

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("GET /health", t.healthChecker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	var handler http.Handler = mux
	handler = DNSRebindingProtection(t.allowedOrigins)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	if t.metrics != nil {
		handler = MetricsMiddleware(t.metrics)(handler)
	}
	return handler
}

// Start listens on the configured address and serves until ctx is
// cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if t.certFile != "" && t.keyFile != "" {
		server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	t.mu.Lock()
	t.server = server
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the listening address once serving, or nil.
func (t *HTTPTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *HTTPTransport) shutdown() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Event streams never go idle on their own.
	t.streams.closeAll()

	if err := server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	return t.shutdown()
}

// Compile-time check that HTTPTransport implements Transport.
var _ inbound.Transport = (*HTTPTransport)(nil)
