// ABOUTME: Configuration loading and parsing for huddle-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/huddle-gateway/internal/secret"
)

// ErrConfiguration is returned for any invalid or missing configuration value.
var ErrConfiguration = errors.New("invalid configuration")

// Defaults applied by Load when a value is omitted.
const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// Config represents the complete huddle-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Crypto    CryptoConfig    `yaml:"crypto" toml:"crypto"`
	Bots      BotsConfig      `yaml:"bots" toml:"bots"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// CryptoConfig holds the key used to seal provider credentials at rest
type CryptoConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"` // 64 hex chars
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional, health service only
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BotsConfig holds chatbot dispatch configuration
type BotsConfig struct {
	// DefaultAPIKey is the platform credential for the default bot. Empty
	// disables default bot provisioning.
	DefaultAPIKey string   `yaml:"default_api_key" toml:"default_api_key"`
	SystemPrompt  string   `yaml:"system_prompt" toml:"system_prompt"`
	MaxTokens     int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature" toml:"temperature"` // nil means the dispatch default
	HistoryLimit  int      `yaml:"history_limit" toml:"history_limit"`

	DispatchTimeout    time.Duration `yaml:"-" toml:"-"`
	DispatchTimeoutRaw string        `yaml:"dispatch_timeout" toml:"dispatch_timeout"`

	// Providers overrides endpoints keyed by provider name
	// (openai, mistral, deepseek, gemini, anthropic).
	Providers map[string]ProviderConfig `yaml:"providers" toml:"providers"`
}

// ProviderConfig overrides a single provider's endpoint
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// BaseURL returns the configured endpoint override for a provider, if any.
func (b BotsConfig) BaseURL(provider string) string {
	return b.Providers[provider].BaseURL
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath returns the config path to use when none is given:
// $HUDDLE_CONFIG, else <user config dir>/huddle/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("HUDDLE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(dir, "huddle", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first (without overriding the
// existing environment), then ${VAR_NAME} references are expanded.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing durations: %w", ErrConfiguration, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Bots.DispatchTimeout == 0 {
		c.Bots.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("%w: server.http_addr is required (or enable tailscale)", ErrConfiguration)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("%w: tailscale.hostname is required when tailscale is enabled", ErrConfiguration)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrConfiguration)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrConfiguration)
	}

	if _, err := secret.ParseKey(c.Crypto.EncryptionKey); err != nil {
		return fmt.Errorf("%w: crypto.encryption_key: %w", ErrConfiguration, err)
	}

	if c.Bots.MaxTokens < 0 || c.Bots.HistoryLimit < 0 {
		return fmt.Errorf("%w: bots.max_tokens and bots.history_limit must not be negative", ErrConfiguration)
	}

	if t := c.Bots.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("%w: bots.temperature must be between 0 and 2", ErrConfiguration)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrConfiguration, c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Bots.DispatchTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Bots.DispatchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing dispatch_timeout %q: %w", cfg.Bots.DispatchTimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("dispatch_timeout must be positive, got %s", d)
		}
		cfg.Bots.DispatchTimeout = d
	}
	return nil
}
