package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/phishlense/phishlense/internal/safefile"
)

// maxConfigBytes bounds the config file size. A phishlense config is a few
// hundred bytes; anything near the limit is not a config file.
const maxConfigBytes = 1 << 20

// Config is the top-level phishlense configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Model      ModelConfig      `yaml:"model"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Classifier ClassifierConfig `yaml:"classifier"`

	// CustomRulesDir optionally points at extra indicator rule YAMLs that
	// the analysis pre-scan loads alongside the built-in rules.
	CustomRulesDir string `yaml:"custom_rules_dir,omitempty"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"` // Address to bind (default: 127.0.0.1)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig selects and configures the artifact store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// RedisConfig configures the rate-limit counter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// ModelConfig configures the completion collaborator.
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key,omitempty"` // falls back to OPENAI_API_KEY
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutS    int     `yaml:"timeout_seconds"`
}

// RateLimitConfig bounds analysis requests per caller.
type RateLimitConfig struct {
	MaxRequests   int `yaml:"max_requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// SandboxConfig bounds the URL prober.
type SandboxConfig struct {
	MaxRedirects  int `yaml:"max_redirects"`
	TimeoutS      int `yaml:"timeout_seconds"`
	EmailTimeoutS int `yaml:"email_timeout_seconds"` // simplified email-URL fetch
	MaxEmailURLs  int `yaml:"max_email_urls"`
}

// ClassifierConfig points at the ML traffic classifier service.
type ClassifierConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	TimeoutS int    `yaml:"timeout_seconds"`
}

// Load reads and parses a phishlense config file.
func Load(path string) (*Config, error) {
	data, err := safefile.ReadFileMax(path, maxConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if cfg.Sandbox.MaxRedirects == 0 {
		cfg.Sandbox.MaxRedirects = 5
	}
	if cfg.Sandbox.MaxEmailURLs == 0 {
		cfg.Sandbox.MaxEmailURLs = 3
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Port:     8090,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "phishlense.db",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Model: ModelConfig{
			BaseURL:     "https://api.openai.com/v1",
			Name:        "gpt-4o",
			Temperature: 0.3,
			MaxTokens:   1000,
			TimeoutS:    60,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   20,
			WindowSeconds: 3600,
		},
		Sandbox: SandboxConfig{
			MaxRedirects:  5,
			TimeoutS:      15,
			EmailTimeoutS: 10,
			MaxEmailURLs:  3,
		},
		Classifier: ClassifierConfig{
			Enabled:  false,
			TimeoutS: 5,
		},
	}
}

// Save writes the config to a YAML file at the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that the config is consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Sandbox.MaxRedirects < 1 {
		return fmt.Errorf("sandbox.max_redirects must be at least 1")
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("rate_limit.max_requests must be at least 1")
	}
	if c.Classifier.Enabled && c.Classifier.URL == "" {
		return fmt.Errorf("classifier.url is required when classifier.enabled is true")
	}
	return nil
}
