package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/viper"

	"github.com/Sayan19951995/metricon-sub002/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"start", "stop", "version", "hash-key", "config", "session"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered with rootCmd", name)
		}
	}
}

func TestSessionCmd_Subcommands(t *testing.T) {
	want := []string{"start", "status", "list", "token", "send", "disconnect", "events"}
	have := map[string]bool{}
	for _, c := range sessionCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("session subcommand %q not registered", name)
		}
	}
}

func TestHashKeyCmd(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	t.Cleanup(func() { hashKeyCmd.SetOut(nil) })

	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"s3cret"}); err != nil {
		t.Fatalf("hash-key error: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want argon2id PHC string", hash)
	}
	ok, err := argon2id.ComparePasswordAndHash("s3cret", hash)
	if err != nil || !ok {
		t.Errorf("hash does not verify: ok=%v err=%v", ok, err)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "metricon-messenger "+Version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	t.Setenv("METRICON_PID_FILE", path)

	if got := pidFilePath(); got != path {
		t.Fatalf("pidFilePath() = %q, want %q", got, path)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	if got := readPIDFile(filepath.Join(dir, "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
	bad := filepath.Join(dir, "bad.pid")
	_ = os.WriteFile(bad, []byte("not-a-pid\n"), 0644)
	if got := readPIDFile(bad); got != 0 {
		t.Errorf("readPIDFile(bad) = %d, want 0", got)
	}
}

func TestRunStop_NoPIDFile(t *testing.T) {
	t.Setenv("METRICON_PID_FILE", filepath.Join(t.TempDir(), "server.pid"))

	err := runStop(stopCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "no server PID file") {
		t.Errorf("runStop() error = %v, want missing PID file", err)
	}
}

func TestOpenCredentialStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	ctx := context.Background()

	tests := []config.CredentialsConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendFile, Dir: filepath.Join(dir, "creds")},
		{Backend: config.BackendSQLite, SQLitePath: filepath.Join(dir, "db", "creds.db")},
	}
	for _, cfg := range tests {
		t.Run(cfg.Backend, func(t *testing.T) {
			store, closeStore, err := openCredentialStore(ctx, cfg, logger)
			if err != nil {
				t.Fatalf("openCredentialStore(%s) error: %v", cfg.Backend, err)
			}
			defer func() {
				if err := closeStore(); err != nil {
					t.Errorf("close error: %v", err)
				}
			}()
			if ok, err := store.Exists(ctx, "acme"); err != nil || ok {
				t.Errorf("Exists(acme) = %v, %v on a new store", ok, err)
			}
		})
	}

	if _, _, err := openCredentialStore(ctx, config.CredentialsConfig{Backend: "redis"}, logger); err == nil {
		t.Error("openCredentialStore(redis) expected error")
	}
}

func TestConfigShow_MasksDSN(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "metricon.yaml")
	content := `
credentials:
  backend: postgres
  postgres_dsn: "postgres://metricon:hunter2@db/metricon"
bridge:
  command: /usr/local/bin/chat-bridge
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	config.InitViper(path)

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	t.Cleanup(func() { configShowCmd.SetOut(nil) })

	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("config show error: %v", err)
	}
	got := out.String()
	if strings.Contains(got, "hunter2") {
		t.Error("config show leaked the postgres password")
	}
	for _, want := range []string{"# config file: " + path, "backend: postgres", "command: /usr/local/bin/chat-bridge", "idle_timeout: 5m"} {
		if !strings.Contains(got, want) {
			t.Errorf("config show output missing %q:\n%s", want, got)
		}
	}
}

// withSessionFlags points the session commands at srv for one test.
func withSessionFlags(t *testing.T, srv *httptest.Server) *bytes.Buffer {
	t.Helper()
	sessionServerAddr = srv.URL
	sessionAPIKey = "test-key"
	sessionJSON = false
	var out bytes.Buffer
	for _, c := range sessionCmd.Commands() {
		c.SetOut(&out)
	}
	t.Cleanup(func() {
		sessionServerAddr, sessionAPIKey = "", ""
		for _, c := range sessionCmd.Commands() {
			c.SetOut(nil)
		}
	})
	return &out
}

func TestSessionSendCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/acme/messages" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct{ To, Body string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		sent := req.To == "89991234567" && req.Body == "hello"
		_ = json.NewEncoder(w).Encode(map[string]bool{"sent": sent})
	}))
	defer srv.Close()
	out := withSessionFlags(t, srv)

	if err := sessionSendCmd.RunE(sessionSendCmd, []string{"acme", "89991234567", "hello"}); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "sent" {
		t.Errorf("output = %q, want sent", out.String())
	}

	err := sessionSendCmd.RunE(sessionSendCmd, []string{"acme", "89991234567", "other"})
	if err == nil || !strings.Contains(err.Error(), "was not sent") {
		t.Errorf("send error = %v, want not sent", err)
	}
}

func TestSessionStartAndStatusCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sessions/acme/start":
			_, _ = io.WriteString(w, `{"status":"AWAITING_BOOTSTRAP","bootstrap_token":"2@abc"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sessions/acme":
			_, _ = io.WriteString(w, `{"tenant":"acme","status":"CONNECTED","bootstrap_token":null}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sessions/acme/bootstrap-token":
			_, _ = io.WriteString(w, `{"bootstrap_token":null}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	out := withSessionFlags(t, srv)

	if err := sessionStartCmd.RunE(sessionStartCmd, []string{"acme"}); err != nil {
		t.Fatalf("start error: %v", err)
	}
	if !strings.Contains(out.String(), "status: AWAITING_BOOTSTRAP") || !strings.Contains(out.String(), "bootstrap token: 2@abc") {
		t.Errorf("start output = %q", out.String())
	}

	out.Reset()
	if err := sessionStatusCmd.RunE(sessionStatusCmd, []string{"acme"}); err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out.String(), "acme") || !strings.Contains(out.String(), "CONNECTED") {
		t.Errorf("status output = %q", out.String())
	}

	if err := sessionTokenCmd.RunE(sessionTokenCmd, []string{"acme"}); err == nil {
		t.Error("token expected error when no token is pending")
	}
}

func TestSessionDisconnectCmd_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"delete credentials: disk full"}`)
	}))
	defer srv.Close()
	withSessionFlags(t, srv)

	err := sessionDisconnectCmd.RunE(sessionDisconnectCmd, []string{"acme"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("disconnect error = %v, want server message", err)
	}
}
