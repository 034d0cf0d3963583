package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_RetryMatchesSheetsBackoff(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, expected 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialDelay != 600*time.Millisecond {
		t.Errorf("InitialDelay = %v, expected 600ms", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("Multiplier = %v, expected 2", cfg.Retry.Multiplier)
	}
	if cfg.Cache.ResponsesTTL != 180*time.Second {
		t.Errorf("ResponsesTTL = %v, expected 180s", cfg.Cache.ResponsesTTL)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, expected memory", cfg.Store.Driver)
	}
	if cfg.Store.ResponsesSheet != "Responses" {
		t.Errorf("ResponsesSheet = %q, expected Responses", cfg.Store.ResponsesSheet)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
store:
  driver: database
retry:
  initial_delay: 250ms
rubric:
  strict: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, expected 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host default lost, got %q", cfg.Server.Host)
	}
	if cfg.Store.Driver != "database" {
		t.Errorf("Driver = %q, expected database", cfg.Store.Driver)
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("InitialDelay = %v, expected 250ms", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts default lost, got %d", cfg.Retry.MaxAttempts)
	}
	if !cfg.Rubric.Strict {
		t.Error("Rubric.Strict should be true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"google without spreadsheet", func(c *Config) { c.Store.Driver = "google" }, true},
		{"google with spreadsheet", func(c *Config) {
			c.Store.Driver = "google"
			c.Store.SpreadsheetID = "sheet-id"
		}, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "excel" }, true},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, true},
		{"no email column", func(c *Config) { c.Roster.EmailColumn = "" }, true},
		{"oauth without client", func(c *Config) { c.OAuth.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRedisURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.parseRedisURL("redis://:s3cret@cache.internal:6380/2")

	if cfg.Redis.Addr != "cache.internal:6380" {
		t.Errorf("Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("Password = %q", cfg.Redis.Password)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("DB = %d", cfg.Redis.DB)
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "google")
	t.Setenv("SPREADSHEET_ID", "abc123")
	t.Setenv("RUBRIC_STRICT", "true")

	cfg := DefaultConfig()
	cfg.overrideFromEnv()

	if cfg.Store.Driver != "google" || cfg.Store.SpreadsheetID != "abc123" {
		t.Errorf("store override not applied: %+v", cfg.Store)
	}
	if !cfg.Rubric.Strict {
		t.Error("RUBRIC_STRICT not applied")
	}
}
