// ABOUTME: Configuration loading and parsing for rtc-chat-server
// ABOUTME: Reads YAML or TOML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied when a field is left empty in the file.
const (
	DefaultTokenTTL        = 24 * time.Hour
	DefaultBcryptCost      = 12
	DefaultRingTimeout     = 60 * time.Second
	DefaultPingInterval    = 25 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 64 * 1024
	DefaultDatabaseDriver  = "sqlite"
	DefaultHistoryLimit    = 500
	DefaultDedupeWindow    = 5 * time.Minute
)

// Config represents the complete rtc-chat-server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Presence  PresenceConfig  `yaml:"presence" toml:"presence"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	Signaling SignalingConfig `yaml:"signaling" toml:"signaling"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr is optional; when set a gRPC health service listens there.
	GRPCAddr       string   `yaml:"grpc_addr" toml:"grpc_addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	// HTTPS serves on :443 with certificates provisioned by the tailnet.
	HTTPS bool `yaml:"https" toml:"https"`
}

// DatabaseConfig selects the SQL driver and file
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds token and password hashing settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" toml:"jwt_secret"`
	BcryptCost int           `yaml:"bcrypt_cost" toml:"bcrypt_cost"`
	TokenTTL   time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// PresenceConfig controls how duplicate connections of one user are handled
type PresenceConfig struct {
	// Supersede closes older connections of a user when a new one registers.
	// Nil means the default (true).
	Supersede *bool `yaml:"supersede" toml:"supersede"`
}

// SupersedeEnabled reports the effective supersede setting.
func (p PresenceConfig) SupersedeEnabled() bool {
	return p.Supersede == nil || *p.Supersede
}

// ChatConfig holds message relay settings
type ChatConfig struct {
	// HistoryLimit caps how many messages one history request returns; 0 means no cap.
	HistoryLimit int `yaml:"history_limit" toml:"history_limit"`
	// DedupeWindow is how long a client message id is remembered; 0 disables dedupe.
	DedupeWindow time.Duration `yaml:"-" toml:"-"`

	DedupeWindowRaw string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// SignalingConfig holds call negotiation timing
type SignalingConfig struct {
	RingTimeout time.Duration `yaml:"-" toml:"-"`

	RingTimeoutRaw string `yaml:"ring_timeout" toml:"ring_timeout"`
}

// WebSocketConfig holds per-connection transport limits
type WebSocketConfig struct {
	PingInterval    time.Duration `yaml:"-" toml:"-"`
	PongTimeout     time.Duration `yaml:"-" toml:"-"`
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	SendBuffer      int           `yaml:"send_buffer" toml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" toml:"max_message_bytes"`

	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeoutRaw  string `yaml:"pong_timeout" toml:"pong_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes. ext selects the format (".toml" or anything else for YAML).
func Parse(ext string, data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = DefaultBcryptCost
	}
	if cfg.Auth.TokenTTLRaw == "" {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	// An explicit "0s" ring timeout disables expiry, so only the empty string gets the default.
	if cfg.Signaling.RingTimeoutRaw == "" {
		cfg.Signaling.RingTimeout = DefaultRingTimeout
	}
	if cfg.Chat.DedupeWindowRaw == "" {
		cfg.Chat.DedupeWindow = DefaultDedupeWindow
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket.PingInterval = DefaultPingInterval
	}
	if cfg.WebSocket.PongTimeout == 0 {
		cfg.WebSocket.PongTimeout = DefaultPongTimeout
	}
	if cfg.WebSocket.WriteTimeout == 0 {
		cfg.WebSocket.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.WebSocket.SendBuffer == 0 {
		cfg.WebSocket.SendBuffer = DefaultSendBuffer
	}
	if cfg.WebSocket.MaxMessageBytes == 0 {
		cfg.WebSocket.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
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

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative")
	}
	if c.Chat.DedupeWindow < 0 {
		return fmt.Errorf("chat.dedupe_window must not be negative")
	}

	if c.Signaling.RingTimeout < 0 {
		return fmt.Errorf("signaling.ring_timeout must not be negative")
	}

	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be greater than websocket.ping_interval")
	}
	if c.WebSocket.SendBuffer < 0 {
		return fmt.Errorf("websocket.send_buffer must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"chat.dedupe_window", cfg.Chat.DedupeWindowRaw, &cfg.Chat.DedupeWindow},
		{"signaling.ring_timeout", cfg.Signaling.RingTimeoutRaw, &cfg.Signaling.RingTimeout},
		{"websocket.ping_interval", cfg.WebSocket.PingIntervalRaw, &cfg.WebSocket.PingInterval},
		{"websocket.pong_timeout", cfg.WebSocket.PongTimeoutRaw, &cfg.WebSocket.PongTimeout},
		{"websocket.write_timeout", cfg.WebSocket.WriteTimeoutRaw, &cfg.WebSocket.WriteTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
