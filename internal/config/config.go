// Package config provides configuration types for the messaging session
// service.
//
// Configuration is file based (metricon.yaml) with environment overrides
// using the METRICON_ prefix. Durations are written as Go duration strings
// ("30s", "5m").
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Credential store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the top-level service configuration.
type Config struct {
	// Server configures the HTTP API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Session configures connection timing and the session registry.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Address configures phone number normalization.
	Address AddressConfig `yaml:"address" mapstructure:"address"`

	// Credentials selects where tenant credentials are persisted.
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`

	// Bridge configures the subprocess that speaks the chat network protocol.
	Bridge BridgeConfig `yaml:"bridge" mapstructure:"bridge"`

	// Inbound configures delivery of inbound messages to subscribers.
	Inbound InboundConfig `yaml:"inbound" mapstructure:"inbound"`

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging and in-memory credentials, and allows
	// running without a bridge command.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists extra hosts accepted by DNS rebinding protection.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// TLS enables HTTPS when both files are set.
	TLS TLSConfig `yaml:"tls" mapstructure:"tls"`

	// APIKeys protects the API. When empty the API is open.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// TLSConfig points at a certificate and key pair.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file" validate:"required_with=CertFile"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// APIKeyConfig is a named API key hash.
type APIKeyConfig struct {
	// Name identifies the key in logs.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Hash is an argon2id PHC string (generate with "metricon-messenger hash-key")
	// or a hex SHA-256 digest, optionally prefixed with "sha256:".
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required,key_hash"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	// StartTimeout bounds how long a start request waits for a pairing
	// token or a connection. Default "15s".
	StartTimeout string `yaml:"start_timeout" mapstructure:"start_timeout" validate:"omitempty,duration"`

	// ConnectTimeout bounds how long a send waits for a connection.
	// Default "10s".
	ConnectTimeout string `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"omitempty,duration"`

	// IdleTimeout closes connections without traffic. Default "5m".
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"omitempty,duration"`

	// ReconnectDelay is the delay before reconnecting after a connection
	// loss. Default "5s".
	ReconnectDelay string `yaml:"reconnect_delay" mapstructure:"reconnect_delay" validate:"omitempty,duration"`

	// RegistryShards is the number of registry shards. Default 32.
	RegistryShards int `yaml:"registry_shards" mapstructure:"registry_shards" validate:"omitempty,min=1,max=4096"`
}

// AddressConfig configures the numbering plan used to normalize recipients.
type AddressConfig struct {
	CountryCode    string `yaml:"country_code" mapstructure:"country_code" validate:"omitempty,digits"`
	TrunkPrefix    string `yaml:"trunk_prefix" mapstructure:"trunk_prefix" validate:"omitempty,digits"`
	NationalLength int    `yaml:"national_length" mapstructure:"national_length" validate:"omitempty,min=1,max=15"`
	Suffix         string `yaml:"suffix" mapstructure:"suffix" validate:"omitempty,startswith=@"`
}

// CredentialsConfig selects the credential store.
type CredentialsConfig struct {
	// Backend is one of "memory", "file", "sqlite", "postgres".
	// Default "file".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,credentials_backend"`

	// Dir is the directory for the file backend.
	// Default "~/.metricon/credentials".
	Dir string `yaml:"dir" mapstructure:"dir"`

	// SQLitePath is the database file for the sqlite backend.
	// Default "~/.metricon/credentials.db".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// BridgeConfig configures the chat network bridge subprocess.
type BridgeConfig struct {
	// Command is the bridge executable. Required outside dev mode.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are passed before the "--tenant <id>" arguments.
	Args []string `yaml:"args" mapstructure:"args"`

	// SendTimeout bounds how long a send waits for the bridge ack.
	// Default "30s".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`
}

// InboundConfig configures inbound message fan-out.
type InboundConfig struct {
	// QueueSize is the per-subscriber buffer. Default 256.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"omitempty,min=1"`
}

// TelemetryConfig configures OpenTelemetry export. Prometheus metrics on
// /metrics are always served.
type TelemetryConfig struct {
	// Traces is "none" (default) or "stdout".
	Traces string `yaml:"traces" mapstructure:"traces" validate:"omitempty,oneof=none stdout"`

	// Metrics is "none" (default) or "stdout".
	Metrics string `yaml:"metrics" mapstructure:"metrics" validate:"omitempty,oneof=none stdout"`

	// MetricsInterval is the stdout metrics export period. Default "1m".
	MetricsInterval string `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies permissive defaults for development mode.
// They are applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if !viper.IsSet("credentials.backend") {
		c.Credentials.Backend = BackendMemory
	}
	if !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Session.StartTimeout == "" {
		c.Session.StartTimeout = "15s"
	}
	if c.Session.ConnectTimeout == "" {
		c.Session.ConnectTimeout = "10s"
	}
	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "5m"
	}
	if c.Session.ReconnectDelay == "" {
		c.Session.ReconnectDelay = "5s"
	}
	if c.Session.RegistryShards == 0 {
		c.Session.RegistryShards = 32
	}

	if c.Credentials.Backend == "" {
		c.Credentials.Backend = BackendFile
	}
	home, _ := os.UserHomeDir()
	if c.Credentials.Dir == "" {
		c.Credentials.Dir = filepath.Join(home, ".metricon", "credentials")
	}
	if c.Credentials.SQLitePath == "" {
		c.Credentials.SQLitePath = filepath.Join(home, ".metricon", "credentials.db")
	}

	if c.Bridge.SendTimeout == "" {
		c.Bridge.SendTimeout = "30s"
	}
	if c.Inbound.QueueSize == 0 {
		c.Inbound.QueueSize = 256
	}
	if c.Telemetry.Traces == "" {
		c.Telemetry.Traces = "none"
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = "none"
	}
	if c.Telemetry.MetricsInterval == "" {
		c.Telemetry.MetricsInterval = "1m"
	}
}

// Duration parses a duration string written by SetDefaults or validated by
// Validate. Unparseable values return zero, which consumers treat as
// "use the built-in default".
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
