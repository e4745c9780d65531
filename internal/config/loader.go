package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for metricon.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("metricon")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: METRICON_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("METRICON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a metricon config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".metricon"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "metricon"))
		}
	} else {
		paths = append(paths, "/etc/metricon")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for metricon.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "metricon"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists the scalar keys that can be overridden from the environment.
// Example: METRICON_SESSION_IDLE_TIMEOUT overrides session.idle_timeout.
// Lists such as server.api_keys are configured in the file.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.tls.cert_file",
	"server.tls.key_file",

	"session.start_timeout",
	"session.connect_timeout",
	"session.idle_timeout",
	"session.reconnect_delay",
	"session.registry_shards",

	"address.country_code",
	"address.trunk_prefix",
	"address.national_length",
	"address.suffix",

	"credentials.backend",
	"credentials.dir",
	"credentials.sqlite_path",
	"credentials.postgres_dsn",

	"bridge.command",
	"bridge.send_timeout",

	"inbound.queue_size",
	"telemetry.traces",
	"telemetry.metrics",
	"telemetry.metrics_interval",
	"dev_mode",
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. AutomaticEnv alone only resolves keys Viper already knows about.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: environment variables only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
