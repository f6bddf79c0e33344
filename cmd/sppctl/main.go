package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sppctl",
	Short: "Bluetooth serial (RFCOMM/SPP) client",
	Long: `Command-line client for Bluetooth Classic serial devices (HC-05, HC-06,
ESP32 SPP and similar) that are already paired with this machine:

- List paired devices and the services they offer
- Connect by name or address and exchange newline-delimited text
- Interactive line terminal
- Bridge a device to a local PTY for minicom, screen or pyserial
- Drive an Arduino rover using its single-byte command protocol

Devices must be paired beforehand (e.g. with bluetoothctl).`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(termCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(driveCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("config", "", "YAML configuration file")
	pf.String("adapter", "", "Bluetooth adapter id, e.g. hci0 (default: first available)")
	pf.String("uuid", "", "Service UUID to connect to (default: Serial Port Profile)")
	pf.Uint8("channel", 0, "Fixed RFCOMM channel 1-30; 0 resolves it from the service record")
	pf.Bool("secure", false, "Require an authenticated, encrypted link")
	pf.Duration("connect-timeout", 0, "Connection timeout (default 30s)")
	pf.Duration("read-timeout", 0, "Timeout for completing a partially received line (default: wait)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
