package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8741 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8741)
	}
	if cfg.Engine.Host != "http://127.0.0.1:11434" {
		t.Errorf("Engine.Host = %q", cfg.Engine.Host)
	}
	if cfg.Models.Default != "llama3.2" {
		t.Errorf("Models.Default = %q, want llama3.2", cfg.Models.Default)
	}
	if cfg.Registry.CacheEnabled {
		t.Error("registry cache should default to disabled")
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("Port = %d, want the default", cfg.API.Port)
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PARLEY_HOME", home)

	content := `
[api]
port = 9999

[registry]
cache_enabled = true
cache_ttl_minutes = 15

[logging]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.API.Port)
	}
	if !cfg.Registry.CacheEnabled || cfg.Registry.CacheTTLMin != 15 {
		t.Errorf("Registry = %+v", cfg.Registry)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Sections absent from the file keep their defaults.
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want the default preserved", cfg.API.Host)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 8080
	cfg.Logging.Level = "warn"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got.API.Port != 8080 || got.Logging.Level != "warn" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestParleyHome_EnvOverride(t *testing.T) {
	t.Setenv("PARLEY_HOME", "/tmp/custom-parley")
	if got := ParleyHome(); got != "/tmp/custom-parley" {
		t.Errorf("ParleyHome() = %q", got)
	}
}
