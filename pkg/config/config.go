package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// OutputFormats are the accepted output_format values.
var OutputFormats = []string{"table", "json"}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration
type Config struct {
	LogLevel         string         `yaml:"log_level" default:"info"`
	ScanTimeout      time.Duration  `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout" default:"15s"`
	OperationTimeout time.Duration  `yaml:"operation_timeout" default:"10s"`
	ConnectSettle    time.Duration  `yaml:"connect_settle" default:"600ms"`
	Profile          string         `yaml:"profile" default:"somnosense"` // built-in name or YAML path
	Roles            []profile.Role `yaml:"roles,omitempty"`              // overrides the profile's role table
	OutputFormat     string         `yaml:"output_format" default:"table"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
}

// MQTTConfig configures the reading forwarder.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID    string `yaml:"client_id" default:"roomsense"`
	TopicPrefix string `yaml:"topic_prefix" default:"roomsense"`
	QoS         byte   `yaml:"qos"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Parse decodes YAML over the defaults and validates the result.
// Keys absent from data keep their default; explicit zero values are kept.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML config file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges. Profile resolution is left to ResolveProfile.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":      c.ScanTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"operation_timeout": c.OperationTimeout,
		"connect_settle":    c.ConnectSettle,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalidConfig, name, d)
		}
	}
	if !validFormat(c.OutputFormat) {
		return fmt.Errorf("%w: output_format %q (want one of %v)", ErrInvalidConfig, c.OutputFormat, OutputFormats)
	}
	if c.Profile == "" && len(c.Roles) == 0 {
		return fmt.Errorf("%w: profile is required", ErrInvalidConfig)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalidConfig)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2, got %d", ErrInvalidConfig, c.MQTT.QoS)
	}
	return nil
}

func validFormat(f string) bool {
	for _, v := range OutputFormats {
		if f == v {
			return true
		}
	}
	return false
}

// Level returns the parsed log level, info when unparsable.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ResolveProfile returns the configured profile with the custom role table applied.
func (c *Config) ResolveProfile() (profile.Profile, error) {
	name := c.Profile
	if name == "" {
		name = profile.Somnosense
	}
	base, err := profile.Resolve(name)
	if err != nil {
		return profile.Profile{}, err
	}
	return profile.WithRoles(base, c.Roles)
}

// SessionConfig returns the session timing for p.
func (c *Config) SessionConfig(p profile.Profile) session.Config {
	cfg := session.DefaultConfig(p)
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.OperationTimeout = c.OperationTimeout
	cfg.ConnectSettle = c.ConnectSettle
	return cfg
}
