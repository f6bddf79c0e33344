package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, device.SerialPortUUID, cfg.ServiceUUID)
	assert.Equal(t, uint8(0), cfg.Channel)
	assert.False(t, cfg.Secure, "connections MUST be insecure by default")
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.ReadTimeout)
	assert.Equal(t, 4096, cfg.MaxLineLength)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4096, cfg.Bridge.ReadBufferSize)
	assert.Equal(t, "HC-02", cfg.Rover.Device)
	assert.Equal(t, 100, cfg.Rover.NormalSpeed)
	assert.Equal(t, 15, cfg.Rover.MinObjectDistCM)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", want: logrus.ErrorLevel},
		{name: "falls back to info on garbage", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sppctl.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
adapter: hci1
device: ESP32-BT
service_uuid: "1101"
channel: 3
secure: true
connect_timeout: 5s
read_timeout: 250ms
bridge:
  symlink: /tmp/rfcomm-esp32
rover:
  normal_speed: 180
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "hci1", cfg.Adapter)
		assert.Equal(t, "ESP32-BT", cfg.Device)
		assert.Equal(t, uint8(3), cfg.Channel)
		assert.True(t, cfg.Secure)
		assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
		assert.Equal(t, "/tmp/rfcomm-esp32", cfg.Bridge.Symlink)
		assert.Equal(t, 4096, cfg.Bridge.WriteBufferSize, "unset nested values MUST keep their defaults")
		assert.Equal(t, 180, cfg.Rover.NormalSpeed)
		assert.Equal(t, 15, cfg.Rover.MinObjectDistCM)

		opts := cfg.ConnectorOptions()
		assert.Equal(t, "1101", opts.ServiceUUID)
		assert.Equal(t, uint8(3), opts.Channel)
		assert.True(t, opts.Secure)
		assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("output_format: csv\nservice_uuid: nope\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.ErrorContains(t, err, "output_format")
		assert.ErrorContains(t, err, "service_uuid")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"channel out of range", func(c *Config) { c.Channel = 31 }, "channel"},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, "negative"},
		{"negative line length", func(c *Config) { c.MaxLineLength = -1 }, "max_line_length"},
		{"speed too large", func(c *Config) { c.Rover.NormalSpeed = 256 }, "normal_speed"},
		{"distance too large", func(c *Config) { c.Rover.MinObjectDistCM = 300 }, "min_object_dist_cm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
