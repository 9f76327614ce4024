// ABOUTME: Configuration loading and parsing for the loom broker and gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete loom configuration. The broker and the
// gateway share one file; each binary validates only its own section.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig holds the credential broker configuration.
type BrokerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// PublicURL is the externally reachable base URL of the broker. Provider
	// redirect URIs are derived from it as {public_url}/callback/{provider}.
	PublicURL string         `yaml:"public_url"`
	Database  DatabaseConfig `yaml:"database"`
	// EncryptionKey enables at-rest encryption of stored tokens when set.
	EncryptionKey string `yaml:"encryption_key"`
	// StateSigningKey enables HS256 signing of the OAuth state parameter.
	// When empty the state carries the raw user id (compatible default).
	StateSigningKey string `yaml:"state_signing_key"`

	ProviderTimeout    time.Duration `yaml:"-"`
	ProviderTimeoutRaw string        `yaml:"provider_timeout"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds per-provider OAuth client configuration.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	// RefreshPolicy is one of "never", "always", "on_expiry" (default).
	RefreshPolicy string `yaml:"refresh_policy"`
}

// DatabaseConfig holds token database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds the protocol gateway configuration.
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// BrokerURL is the network tier of the credential resolver.
	BrokerURL string `yaml:"broker_url"`
	// UserID identifies the owner on broker issuance calls.
	UserID string `yaml:"user_id"`
	// FallbackToken is the static last-resort credential for offline use.
	FallbackToken string `yaml:"fallback_token"`
	// Local binds the issuance service in-process instead of calling the
	// broker over the network. Requires the broker section to be configured.
	Local bool `yaml:"local"`
	// BuiltinDemo registers the in-process demo adapter (echo/clock tools).
	BuiltinDemo bool `yaml:"builtin_demo"`

	AdapterTimeout    time.Duration `yaml:"-"`
	AdapterTimeoutRaw string        `yaml:"adapter_timeout"`

	Tailscale TailscaleConfig `yaml:"tailscale"`
	Adapters  []AdapterConfig `yaml:"adapters"`
}

// AdapterConfig describes one backend adapter the gateway routes to.
type AdapterConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Provider names the identity provider whose credential the adapter
	// needs; empty means the adapter takes whatever the caller supplies.
	Provider string `yaml:"provider"`
	// Keywords route tool names to this adapter when exact lookup misses.
	Keywords []string `yaml:"keywords"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default timeouts applied when the config omits them.
const (
	DefaultProviderTimeout = 15 * time.Second
	DefaultAdapterTimeout  = 30 * time.Second
)

var validRefreshPolicies = map[string]bool{
	"":          true, // defaults to on_expiry
	"never":     true,
	"always":    true,
	"on_expiry": true,
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Broker.ProviderTimeout == 0 {
		c.Broker.ProviderTimeout = DefaultProviderTimeout
	}
	if c.Gateway.AdapterTimeout == 0 {
		c.Gateway.AdapterTimeout = DefaultAdapterTimeout
	}
	if c.Broker.Database.Path == "" {
		c.Broker.Database.Path = DefaultDatabasePath()
	}
}

// ValidateBroker checks the broker section. A configured provider with
// missing client credentials is rejected here so the failure happens at
// startup rather than at authorization time.
func (c *Config) ValidateBroker() error {
	if c.Broker.ListenAddr == "" {
		return fmt.Errorf("broker.listen_addr is required")
	}
	if c.Broker.PublicURL == "" {
		return fmt.Errorf("broker.public_url is required")
	}
	for name, p := range c.Broker.Providers {
		if p.ClientID == "" {
			return fmt.Errorf("broker.providers.%s.client_id is required", name)
		}
		if p.ClientSecret == "" {
			return fmt.Errorf("broker.providers.%s.client_secret is required", name)
		}
		if !validRefreshPolicies[p.RefreshPolicy] {
			return fmt.Errorf("broker.providers.%s.refresh_policy %q is invalid (use never, always, or on_expiry)", name, p.RefreshPolicy)
		}
	}
	return nil
}

// ValidateGateway checks the gateway section.
func (c *Config) ValidateGateway() error {
	if !c.Gateway.Tailscale.Enabled && c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required (or enable tailscale)")
	}
	if c.Gateway.Tailscale.Enabled && c.Gateway.Tailscale.Hostname == "" {
		return fmt.Errorf("gateway.tailscale.hostname is required when tailscale is enabled")
	}
	seen := make(map[string]bool, len(c.Gateway.Adapters))
	for i, a := range c.Gateway.Adapters {
		if a.Name == "" {
			return fmt.Errorf("gateway.adapters[%d].name is required", i)
		}
		if a.URL == "" {
			return fmt.Errorf("gateway.adapters[%d].url is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("gateway.adapters[%d]: duplicate adapter name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	if c.Gateway.Local {
		if err := c.ValidateBroker(); err != nil {
			return fmt.Errorf("gateway.local requires a valid broker section: %w", err)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Broker.ProviderTimeoutRaw != "" {
		cfg.Broker.ProviderTimeout, err = time.ParseDuration(cfg.Broker.ProviderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing provider_timeout %q: %w", cfg.Broker.ProviderTimeoutRaw, err)
		}
	}

	if cfg.Gateway.AdapterTimeoutRaw != "" {
		cfg.Gateway.AdapterTimeout, err = time.ParseDuration(cfg.Gateway.AdapterTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing adapter_timeout %q: %w", cfg.Gateway.AdapterTimeoutRaw, err)
		}
	}

	return nil
}

// DefaultConfigPath returns the default config file location.
// Priority: LOOM_CONFIG env var > $XDG_CONFIG_HOME/loom/config.yaml > ~/.config/loom/config.yaml
func DefaultConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loom", "config.yaml")
}

// DefaultDatabasePath returns the default token database location.
// Priority: $XDG_DATA_HOME/loom/tokens.db > ~/.local/share/loom/tokens.db
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "tokens.db" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "loom", "tokens.db")
}
