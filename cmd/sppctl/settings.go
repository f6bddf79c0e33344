package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/pkg/config"
)

// settings holds the merged configuration and the logger every command uses.
type settings struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// loadSettings reads --config and applies the connection flags the user set
// explicitly on top of it.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("adapter") {
		cfg.Adapter, _ = flags.GetString("adapter")
	}
	if flags.Changed("uuid") {
		cfg.ServiceUUID, _ = flags.GetString("uuid")
	}
	if flags.Changed("channel") {
		cfg.Channel, _ = flags.GetUint8("channel")
	}
	if flags.Changed("secure") {
		cfg.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout, _ = flags.GetDuration("read-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return &settings{cfg: cfg, logger: logger}, nil
}

// runOptions builds connector.RunSession options for target.
func (s *settings) runOptions(byAddress bool) *connector.RunOptions {
	return &connector.RunOptions{
		AdapterID: s.cfg.Adapter,
		ByAddress: byAddress,
		Connector: s.cfg.ConnectorOptions(),
	}
}

// target returns the positional device argument, falling back to the
// configured default device.
func (s *settings) target(args []string, fallback string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("device name required: pass it as an argument or set device in the config file")
}
