// ABOUTME: Configuration loading and parsing for supportdesk
// ABOUTME: YAML or TOML files with ${VAR} expansion, SUPPORTDESK_* env overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "SUPPORTDESK"

// MinJWTSecretLength matches the HMAC secret floor enforced by the token verifier.
const MinJWTSecretLength = 32

// Config represents the complete supportdesk configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Presence  PresenceConfig  `yaml:"presence" toml:"presence"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses. GRPCAddr serves the gRPC health
// service and may be empty to disable it.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" split_words:"true"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr" split_words:"true"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" split_words:"true"`
	Hostname  string `yaml:"hostname" toml:"hostname" split_words:"true"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" split_words:"true"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" split_words:"true"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" split_words:"true"`
	HTTPS     bool   `yaml:"https" toml:"https" split_words:"true"`   // serve HTTP on :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel" split_words:"true"` // expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig selects the SQLite file and driver ("sqlite" is pure Go,
// "sqlite3" is cgo).
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path" split_words:"true"`
	Driver string `yaml:"driver" toml:"driver" split_words:"true"`
}

// AuthConfig holds agent token configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret" split_words:"true"`
	TokenTTL  time.Duration `yaml:"-" toml:"-" ignored:"true"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl" envconfig:"TOKEN_TTL"`
}

type PresenceConfig struct {
	BroadcastUserStatus bool `yaml:"broadcast_user_status" toml:"broadcast_user_status" split_words:"true"`
}

// RelayConfig tunes per-connection behavior.
type RelayConfig struct {
	EventTimeout  time.Duration `yaml:"-" toml:"-" ignored:"true"`
	SendQueueSize int           `yaml:"send_queue_size" toml:"send_queue_size" split_words:"true"`

	EventTimeoutRaw string `yaml:"event_timeout" toml:"event_timeout" envconfig:"EVENT_TIMEOUT"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" split_words:"true"`
}

// RedisConfig enables the cross-instance presence backplane when URL is set.
type RedisConfig struct {
	URL           string `yaml:"url" toml:"url" split_words:"true"`
	ChannelPrefix string `yaml:"channel_prefix" toml:"channel_prefix" split_words:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" split_words:"true"`
	Format string `yaml:"format" toml:"format" split_words:"true"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" split_words:"true"`
	Path    string `yaml:"path" toml:"path" split_words:"true"`
}

// Default returns a configuration with every optional field filled in.
// Auth.JWTSecret is left empty and must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "0.0.0.0:5000",
		},
		Database: DatabaseConfig{
			Path:   "./supportdesk.db",
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			TokenTTLRaw: "24h",
		},
		Relay: RelayConfig{
			SendQueueSize:   256,
			EventTimeoutRaw: "10s",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Redis: RedisConfig{
			ChannelPrefix: "supportdesk",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from path on top of Default, applies
// SUPPORTDESK_* environment overrides and validates the result. Files ending
// in .toml are parsed as TOML, everything else as YAML. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides each section from the environment. Unset variables
// leave the file value alone. Keys come from split_words field names; an
// explicit envconfig tag would also be looked up unprefixed.
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix, &cfg.Server},
		{EnvPrefix + "_TAILSCALE", &cfg.Tailscale},
		{EnvPrefix + "_DB", &cfg.Database},
		{EnvPrefix, &cfg.Auth},
		{EnvPrefix + "_PRESENCE", &cfg.Presence},
		{EnvPrefix + "_RELAY", &cfg.Relay},
		{EnvPrefix + "_CORS", &cfg.CORS},
		{EnvPrefix + "_REDIS", &cfg.Redis},
		{EnvPrefix + "_LOG", &cfg.Logging},
		{EnvPrefix + "_METRICS", &cfg.Metrics},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return err
		}
	}
	return nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Relay.SendQueueSize <= 0 {
		return fmt.Errorf("relay.send_queue_size must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Relay.EventTimeoutRaw != "" {
		cfg.Relay.EventTimeout, err = time.ParseDuration(cfg.Relay.EventTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing event_timeout %q: %w", cfg.Relay.EventTimeoutRaw, err)
		}
	}

	return nil
}

// DefaultPath returns the config path used when none is given:
// $SUPPORTDESK_CONFIG, else <user config dir>/supportdesk/config.yaml if it
// exists, else empty.
func DefaultPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(dir, "supportdesk", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
