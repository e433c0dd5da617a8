// ABOUTME: Configuration loading and parsing for livechat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults applied by Load.
const (
	DefaultWSPath          = "/ws"
	DefaultVisitorTokenTTL = 7 * 24 * time.Hour
	DefaultStaffTokenTTL   = 30 * 24 * time.Hour
	DefaultPingInterval    = 30 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 64 << 10
	DefaultExchange        = "livechat.events"
	DefaultProducer        = "livechat-gateway"
	DefaultMetricsPath     = "/metrics"

	minSecretLength = 16
)

// Config represents the complete livechat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	WSPath         string   `yaml:"ws_path"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty allows any origin
}

// DatabaseConfig selects the persistence driver
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite
	DSN    string `yaml:"dsn"`  // postgres
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	VisitorTokenTTL time.Duration `yaml:"-"`
	StaffTokenTTL   time.Duration `yaml:"-"`

	VisitorTokenTTLRaw string `yaml:"visitor_token_ttl"`
	StaffTokenTTLRaw   string `yaml:"staff_token_ttl"`
}

// GatewayConfig tunes WebSocket connections
type GatewayConfig struct {
	PingInterval    time.Duration `yaml:"-"`
	PongWait        time.Duration `yaml:"-"`
	WriteWait       time.Duration `yaml:"-"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	PongWaitRaw     string `yaml:"pong_wait"`
	WriteWaitRaw    string `yaml:"write_wait"`
}

// EventBusConfig holds RabbitMQ lifecycle event publishing configuration
type EventBusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Producer string `yaml:"producer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if dbPath := os.Getenv("LIVECHAT_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config path from LIVECHAT_CONFIG, falling back to
// the XDG config directory.
func DefaultPath() string {
	if path := os.Getenv("LIVECHAT_CONFIG"); path != "" {
		return path
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "livechat", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "livechat", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Auth.VisitorTokenTTL == 0 {
		c.Auth.VisitorTokenTTL = DefaultVisitorTokenTTL
	}
	if c.Auth.StaffTokenTTL == 0 {
		c.Auth.StaffTokenTTL = DefaultStaffTokenTTL
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = DefaultPingInterval
	}
	if c.Gateway.PongWait == 0 {
		c.Gateway.PongWait = DefaultPongWait
	}
	if c.Gateway.WriteWait == 0 {
		c.Gateway.WriteWait = DefaultWriteWait
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = DefaultSendBuffer
	}
	if c.Gateway.MaxMessageBytes == 0 {
		c.Gateway.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.EventBus.Exchange == "" {
		c.EventBus.Exchange = DefaultExchange
	}
	if c.EventBus.Producer == "" {
		c.EventBus.Producer = DefaultProducer
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use sqlite or postgres)", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	if c.Gateway.PongWait <= c.Gateway.PingInterval {
		return fmt.Errorf("gateway.pong_wait (%v) must exceed gateway.ping_interval (%v)",
			c.Gateway.PongWait, c.Gateway.PingInterval)
	}
	if c.Gateway.SendBuffer < 0 {
		return fmt.Errorf("gateway.send_buffer must not be negative")
	}
	if c.Gateway.MaxMessageBytes < 0 {
		return fmt.Errorf("gateway.max_message_bytes must not be negative")
	}

	if c.EventBus.Enabled && c.EventBus.URL == "" {
		return fmt.Errorf("eventbus.url is required when the eventbus is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.visitor_token_ttl", cfg.Auth.VisitorTokenTTLRaw, &cfg.Auth.VisitorTokenTTL},
		{"auth.staff_token_ttl", cfg.Auth.StaffTokenTTLRaw, &cfg.Auth.StaffTokenTTL},
		{"gateway.ping_interval", cfg.Gateway.PingIntervalRaw, &cfg.Gateway.PingInterval},
		{"gateway.pong_wait", cfg.Gateway.PongWaitRaw, &cfg.Gateway.PongWait},
		{"gateway.write_wait", cfg.Gateway.WriteWaitRaw, &cfg.Gateway.WriteWait},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
