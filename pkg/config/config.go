package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	OutputFormat string `yaml:"output_format" default:"table"` // table, json

	Adapter string `yaml:"adapter"` // controller id, e.g. hci0; empty = first available
	Device  string `yaml:"device"`  // default target name

	ServiceUUID    string        `yaml:"service_uuid" default:"00001101-0000-1000-8000-00805f9b34fb"`
	Channel        uint8         `yaml:"channel"` // 0 = resolve from the service record
	Secure         bool          `yaml:"secure"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ReadTimeout    time.Duration `yaml:"read_timeout"` // 0 = wait for the newline forever
	MaxLineLength  int           `yaml:"max_line_length" default:"4096"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"20ms"`

	Bridge BridgeConfig `yaml:"bridge"`
	Rover  RoverConfig  `yaml:"rover"`
}

// BridgeConfig configures the PTY bridge
type BridgeConfig struct {
	Symlink         string `yaml:"symlink"`
	Script          string `yaml:"script"` // Lua hook script, empty = built-in
	ReadBufferSize  int    `yaml:"read_buffer_size" default:"4096"`
	WriteBufferSize int    `yaml:"write_buffer_size" default:"4096"`
}

// RoverConfig holds the rover controller settings
type RoverConfig struct {
	Device          string `yaml:"device" default:"HC-02"`
	NormalSpeed     int    `yaml:"normal_speed" default:"100"`
	MinObjectDistCM int    `yaml:"min_object_dist_cm" default:"15"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by the YAML decoder
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output_format must be table or json, got %q", c.OutputFormat))
	}
	if c.ServiceUUID != "" {
		if _, err := device.ValidateUUID(c.ServiceUUID); err != nil {
			errs = append(errs, fmt.Errorf("service_uuid: %w", err))
		}
	}
	if c.Channel > 30 {
		errs = append(errs, fmt.Errorf("channel must be 0-30, got %d", c.Channel))
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.PollInterval < 0 {
		errs = append(errs, errors.New("timeouts and intervals must not be negative"))
	}
	if c.MaxLineLength < 0 {
		errs = append(errs, fmt.Errorf("max_line_length must not be negative, got %d", c.MaxLineLength))
	}
	if c.Rover.NormalSpeed < 0 || c.Rover.NormalSpeed > 255 {
		errs = append(errs, fmt.Errorf("rover.normal_speed must fit in a byte, got %d", c.Rover.NormalSpeed))
	}
	if c.Rover.MinObjectDistCM < 0 || c.Rover.MinObjectDistCM > 255 {
		errs = append(errs, fmt.Errorf("rover.min_object_dist_cm must fit in a byte, got %d", c.Rover.MinObjectDistCM))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ConnectorOptions derives connector options from the configuration
func (c *Config) ConnectorOptions() *connector.Options {
	return &connector.Options{
		ServiceUUID:    c.ServiceUUID,
		Channel:        c.Channel,
		Secure:         c.Secure,
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    c.ReadTimeout,
		MaxLineLength:  c.MaxLineLength,
	}
}
