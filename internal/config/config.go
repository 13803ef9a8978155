// Package config loads the service configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ask      AskConfig      `yaml:"ask"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicBaseURL is the externally reachable base URL that webhook
	// registrations point at. Must be HTTPS in production; Telegram
	// rejects plain HTTP webhooks.
	PublicBaseURL string `yaml:"public_base_url"`
}

type DatabaseConfig struct {
	// Path is the SQLite file holding channel credentials.
	Path string `yaml:"path"`

	// SessionPath is the SQLite file holding WhatsApp device sessions.
	SessionPath string `yaml:"session_path"`
}

type AskConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

type ChannelsConfig struct {
	// DeployTimeout bounds a single deploy attempt including the QR
	// handshake wait.
	DeployTimeout Duration `yaml:"deploy_timeout"`

	// Rehydrate reconnects persisted deployments on startup.
	Rehydrate bool `yaml:"rehydrate"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration so YAML values like "5s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. Environment variables
// in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with all defaults applied and no
// file loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/agentline.db"
	}
	if cfg.Database.SessionPath == "" {
		cfg.Database.SessionPath = "data/whatsapp.db"
	}
	if cfg.Ask.Timeout == 0 {
		cfg.Ask.Timeout = Duration(30 * time.Second)
	}
	if cfg.Channels.DeployTimeout == 0 {
		cfg.Channels.DeployTimeout = Duration(60 * time.Second)
	}
	if cfg.Channels.Reconnect.BaseDelay == 0 {
		cfg.Channels.Reconnect.BaseDelay = Duration(5 * time.Second)
	}
	if cfg.Channels.Reconnect.MaxAttempts == 0 {
		cfg.Channels.Reconnect.MaxAttempts = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("server.public_base_url is required")
	}
	if c.Ask.BaseURL == "" {
		return fmt.Errorf("ask.base_url is required")
	}
	return nil
}
