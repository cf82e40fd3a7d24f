package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	content := `
version: "1"
server:
  port: 9090
  log_level: debug
database:
  driver: sqlite
  path: ./test.db
model:
  name: gpt-4o-mini
  temperature: 0.5
rate_limit:
  max_requests: 5
  window_seconds: 60
sandbox:
  max_redirects: 8
`
	dir := t.TempDir()
	path := filepath.Join(dir, "phishlense.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Model.Name != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", cfg.Model.Name)
	}
	if cfg.RateLimit.MaxRequests != 5 {
		t.Errorf("max_requests = %d, want 5", cfg.RateLimit.MaxRequests)
	}
	if cfg.Sandbox.MaxRedirects != 8 {
		t.Errorf("max_redirects = %d, want 8", cfg.Sandbox.MaxRedirects)
	}
}

func TestLoadAppliesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "phishlense.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Model.APIKey)
	}
}

func TestLoadRejectsSymlinkedConfig(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.yaml")
	link := filepath.Join(dir, "phishlense.yaml")
	if err := os.WriteFile(target, []byte("version: \"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(link); err == nil {
		t.Error("expected error for symlinked config")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8090 {
		t.Errorf("default port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Model.Temperature != 0.3 {
		t.Errorf("default temperature = %v, want 0.3", cfg.Model.Temperature)
	}
	if cfg.RateLimit.MaxRequests != 20 {
		t.Errorf("default max_requests = %d, want 20", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.WindowSeconds != 3600 {
		t.Errorf("default window_seconds = %d, want 3600", cfg.RateLimit.WindowSeconds)
	}
	if cfg.Sandbox.MaxRedirects != 5 {
		t.Errorf("default max_redirects = %d, want 5", cfg.Sandbox.MaxRedirects)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phishlense.yaml")

	cfg := Defaults()
	cfg.Server.Port = 9999
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", loaded.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.DSN = "postgres://localhost/phishlense"
		}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"zero redirects", func(c *Config) { c.Sandbox.MaxRedirects = 0 }, true},
		{"zero rate limit", func(c *Config) { c.RateLimit.MaxRequests = 0 }, true},
		{"classifier enabled without url", func(c *Config) { c.Classifier.Enabled = true }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
