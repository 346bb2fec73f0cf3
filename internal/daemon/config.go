// Package daemon manages the Parley daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Models    ModelsConfig    `toml:"models"`
	Engine    EngineConfig    `toml:"engine"`
	Registry  RegistryConfig  `toml:"registry"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// ModelsConfig controls model storage.
type ModelsConfig struct {
	Dir     string `toml:"dir"`
	Default string `toml:"default"`
}

// EngineConfig controls the local engine subprocess.
type EngineConfig struct {
	Host           string `toml:"host"`
	Binary         string `toml:"binary"`
	StartTimeoutMS int    `toml:"start_timeout_ms"`
}

// RegistryConfig controls the model catalog sources and cache.
type RegistryConfig struct {
	PrimaryURL   string `toml:"primary_url"`
	SecondaryURL string `toml:"secondary_url"`
	CacheEnabled bool   `toml:"cache_enabled"`
	CacheTTLMin  int    `toml:"cache_ttl_minutes"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no config file
// exists yet.
func DefaultConfig() Config {
	homeDir := parleyHome()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8741,
			CORSOrigins: []string{"*"},
		},
		Models: ModelsConfig{
			Dir:     filepath.Join(homeDir, "models"),
			Default: "llama3.2",
		},
		Engine: EngineConfig{
			Host:           "http://127.0.0.1:11434",
			Binary:         "ollama",
			StartTimeoutMS: 45000,
		},
		Registry: RegistryConfig{
			CacheEnabled: false,
			CacheTTLMin:  60,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads config from $PARLEY_HOME/config.toml, falling back
// to defaults when the file does not exist.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(parleyHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $PARLEY_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(parleyHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// parleyHome returns the Parley data directory.
func parleyHome() string {
	if env := os.Getenv("PARLEY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// ParleyHome is exported for use by other packages.
func ParleyHome() string {
	return parleyHome()
}
