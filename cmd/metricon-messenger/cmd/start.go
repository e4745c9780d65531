package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Sayan19951995/metricon-sub002/internal/adapter/inbound/http"
	"github.com/Sayan19951995/metricon-sub002/internal/adapter/outbound/bridge"
	"github.com/Sayan19951995/metricon-sub002/internal/adapter/outbound/credfile"
	"github.com/Sayan19951995/metricon-sub002/internal/adapter/outbound/memory"
	"github.com/Sayan19951995/metricon-sub002/internal/adapter/outbound/sqlstore"
	"github.com/Sayan19951995/metricon-sub002/internal/config"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/address"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
	"github.com/Sayan19951995/metricon-sub002/internal/service"
	"github.com/Sayan19951995/metricon-sub002/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	Long: `Start metricon-messenger.

The HTTP API is served on server.http_addr. Tenants with stored credentials
are listed as DISCONNECTED at startup and connect on their first send.

Examples:
  # Start with config file settings
  metricon-messenger start

  # Start in development mode (in-memory credentials, debug logging)
  metricon-messenger start --dev

  # Start with a specific config file
  metricon-messenger --config /path/to/metricon.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, in-memory credentials)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so CLI flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg.Server.LogLevel)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("metricon-messenger stopped")
	return nil
}

// run wires every component and serves until ctx ends.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := openCredentialStore(ctx, cfg.Credentials, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing credential store", "error", err)
		}
	}()

	providers, err := telemetry.Setup(telemetry.Config{
		ServiceName:     "metricon-messenger",
		ServiceVersion:  Version,
		Traces:          cfg.Telemetry.Traces,
		Metrics:         cfg.Telemetry.Metrics,
		MetricsInterval: config.Duration(cfg.Telemetry.MetricsInterval),
		Writer:          os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg)

	otelObserver, err := telemetry.NewObserver(providers.Meter())
	if err != nil {
		return fmt.Errorf("creating telemetry observer: %w", err)
	}

	connector := bridge.NewConnector(bridge.Config{
		Command:     cfg.Bridge.Command,
		Args:        cfg.Bridge.Args,
		SendTimeout: config.Duration(cfg.Bridge.SendTimeout),
	}, logger)

	mgr := service.NewSessionManager(connector, store, logger,
		service.WithTimings(service.SessionTimings{
			StartTimeout:   config.Duration(cfg.Session.StartTimeout),
			ConnectTimeout: config.Duration(cfg.Session.ConnectTimeout),
			IdleTimeout:    config.Duration(cfg.Session.IdleTimeout),
			ReconnectDelay: config.Duration(cfg.Session.ReconnectDelay),
		}),
		service.WithNormalizer(address.New(
			cfg.Address.CountryCode,
			cfg.Address.TrunkPrefix,
			cfg.Address.NationalLength,
			cfg.Address.Suffix,
		)),
		service.WithObserver(service.Observers(metrics, otelObserver)),
		service.WithTracer(providers.Tracer()),
		service.WithInboundQueueSize(cfg.Inbound.QueueSize),
		service.WithRegistryShards(cfg.Session.RegistryShards),
	)
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("closing session manager", "error", err)
		}
	}()
	reg.MustRegister(http.NewSessionsCollector(mgr.Sessions))

	if cfg.DevMode {
		unsubscribe := mgr.Subscribe(func(msg chat.InboundMessage) {
			logger.Debug("inbound message", "tenant", msg.Tenant, "from", msg.From, "id", msg.ID)
		})
		defer unsubscribe()
	}

	dormant, err := mgr.RestoreDormant(ctx)
	if err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}

	keys := make([]auth.APIKey, 0, len(cfg.Server.APIKeys))
	for _, k := range cfg.Server.APIKeys {
		keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.Hash})
	}
	keyring, err := auth.NewKeyring(keys)
	if err != nil {
		return fmt.Errorf("loading api keys: %w", err)
	}
	if !keyring.Enabled() {
		logger.Warn("no api keys configured, the session API is open to anyone who can reach it")
	}

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithKeyring(keyring),
		http.WithMetrics(reg, metrics),
		http.WithHealthChecker(http.NewHealthChecker(mgr, store, Version)),
	}
	if cfg.Server.TLS.Enabled() {
		transportOpts = append(transportOpts, http.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	transport := http.NewHTTPTransport(mgr, transportOpts...)

	logger.Info("metricon-messenger starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"credentials", cfg.Credentials.Backend,
		"bridge", cfg.Bridge.Command,
		"dormant_tenants", dormant,
		"api_keys", len(keys),
		"traces", cfg.Telemetry.Traces,
	)
	printBanner(os.Stderr, Version, cfg, dormant)

	return transport.Start(ctx)
}

// openCredentialStore opens the configured backend. The returned func
// releases it.
func openCredentialStore(ctx context.Context, cfg config.CredentialsConfig, logger *slog.Logger) (credential.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("credentials are kept in memory and lost on restart")
		return memory.NewCredentialStore(), nop, nil

	case config.BackendFile:
		store, err := credfile.New(cfg.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential dir: %w", err)
		}
		logger.Info("credential store: file", "dir", cfg.Dir)
		return store, nop, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		store, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("credential store: sqlite", "path", cfg.SQLitePath)
		return store, store.Close, nil

	case config.BackendPostgres:
		store, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("credential store: postgres")
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown credentials backend %q", cfg.Backend)
}

// newLogger returns a text logger on w at the given level.
func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := parseLogLevel(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(w io.Writer, version string, cfg *config.Config, dormant int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	scheme := "http"
	if cfg.Server.TLS.Enabled() {
		scheme = "https"
	}
	host := cfg.Server.HTTPAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	apiURL := fmt.Sprintf("%s://%s/api/v1", scheme, host)

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}
	authStr := fmt.Sprintf("%d api keys", len(cfg.Server.APIKeys))
	if len(cfg.Server.APIKeys) == 0 {
		authStr = yellow + "open" + reset + dim + " (no api keys)" + reset
	}

	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  %s%s metricon-messenger %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "  %-14s %s\n", "API:", apiURL)
	fmt.Fprintf(w, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Auth:", authStr)
	fmt.Fprintf(w, "  %-14s %s\n", "Credentials:", cfg.Credentials.Backend)
	fmt.Fprintf(w, "  %-14s %d dormant\n", "Tenants:", dormant)
	fmt.Fprintf(w, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(w, "\n")
}
