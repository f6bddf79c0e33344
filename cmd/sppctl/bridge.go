package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppctl/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge [device]",
	Short: "Expose a device as a local pseudo-terminal",
	Long: `Connects to a paired device and creates a PTY so that serial tools such as
minicom, screen or pyserial can talk to it as if it were wired.

Lines received from the device are written to the PTY; bytes typed into the
PTY are sent to the device. A Lua script may rewrite or drop traffic in either
direction by defining:

  function serial_to_tty(line) ... end   -- line without its terminator
  function tty_to_serial(data) ... end   -- raw bytes from the PTY

Return nil to drop the data. The globals 'device' and 'address' describe the
peer. Without --script the built-in script re-appends "\n" to each line.

Examples:
  sppctl bridge HC-06 --symlink /tmp/hc06
  sppctl bridge ESP32-BT --script examples/uppercase.lua`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBridge,
}

var (
	bridgeSymlink string
	bridgeScript  string
	bridgePoll    time.Duration
	bridgeAddress bool
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY, e.g. /tmp/hc06")
	bridgeCmd.Flags().StringVar(&bridgeScript, "script", "", "Lua hook script (default: built-in pass-through)")
	bridgeCmd.Flags().DurationVar(&bridgePoll, "poll", 0, "How often the device is polled for lines (default from config)")
	bridgeCmd.Flags().BoolVar(&bridgeAddress, "address", false, "Treat the device argument as a Bluetooth address")
}

func runBridge(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	target, err := s.target(args, s.cfg.Device)
	if err != nil {
		return err
	}

	opts := &bridge.Options{
		Target:          target,
		ByAddress:       bridgeAddress,
		AdapterID:       s.cfg.Adapter,
		Connector:       s.cfg.ConnectorOptions(),
		Logger:          s.logger,
		ScriptStdout:    cmd.OutOrStdout(),
		ScriptStderr:    cmd.ErrOrStderr(),
		PollInterval:    s.cfg.PollInterval,
		ReadBufferSize:  s.cfg.Bridge.ReadBufferSize,
		WriteBufferSize: s.cfg.Bridge.WriteBufferSize,
		TTYSymlinkPath:  s.cfg.Bridge.Symlink,
	}
	if bridgePoll > 0 {
		opts.PollInterval = bridgePoll
	}
	if bridgeSymlink != "" {
		opts.TTYSymlinkPath = bridgeSymlink
	}
	scriptPath := s.cfg.Bridge.Script
	if bridgeScript != "" {
		scriptPath = bridgeScript
	}
	if scriptPath != "" {
		code, err := os.ReadFile(scriptPath)
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		opts.Script = string(code)
		opts.ScriptName = scriptPath
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Bridging %s", target), "Opening adapter", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.RunSerialBridge(ctx, opts, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		d := b.Session().Device()
		fmt.Fprintf(cmd.ErrOrStderr(), "Bridging %s (%s)\n", d.DisplayName(), d.Address)
		fmt.Fprintf(cmd.ErrOrStderr(), "  PTY: %s\n", b.TTYName())
		if link := b.TTYSymlink(); link != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "  Symlink: %s\n", link)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop.")

		select {
		case <-ctx.Done():
		case <-b.Done():
		}

		st := b.Stats()
		s.logger.WithFields(logrus.Fields{
			"lines_from_serial": st.LinesFromSerial,
			"bytes_to_serial":   st.BytesToSerial,
			"dropped":           st.Dropped,
			"hook_errors":       st.HookErrors,
			"pty_dropped_write": st.PTY.DroppedWriteBytes,
		}).Info("Bridge stopped")
		return struct{}{}, b.Err()
	})
	return err
}
