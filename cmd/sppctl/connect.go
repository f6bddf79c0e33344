package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/devicefactory"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [device]",
	Short: "Check that a paired device accepts a serial connection",
	Long: `Opens a serial connection to a paired device, prints the result and
closes it again. The result is one of:

  Connected   the connection was established
  Not found   no paired device has that name
  Error       the device is paired but the connection failed

Exit status is 0 only when connected.

Examples:
  sppctl connect HC-06
  sppctl connect 98:D3:31:F5:B9:E7 --address`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var connectByAddress bool

func init() {
	connectCmd.Flags().BoolVar(&connectByAddress, "address", false, "Treat the argument as a Bluetooth address")
}

// signalContext is canceled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runConnect(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	target, err := s.target(args, s.cfg.Device)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	adapter, err := devicefactory.NewAdapter(s.cfg.Adapter, s.logger)
	if err != nil {
		printStatus(cmd.OutOrStdout(), target, device.StatusOf(err))
		return err
	}
	c, err := connector.New(adapter, s.cfg.ConnectorOptions(), s.logger)
	if err != nil {
		_ = adapter.Close()
		return err
	}
	defer func() {
		if err := c.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("Failed to release connection")
		}
	}()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", target), "Connecting")
	progress.Start()

	var status device.Status
	if connectByAddress {
		status, err = c.ConnectAddress(ctx, target)
	} else {
		status, err = c.Connect(ctx, target)
	}
	progress.Stop()

	printStatus(cmd.OutOrStdout(), target, status)
	if err != nil {
		return err
	}

	if sess := c.Session(); sess != nil {
		d := sess.Device()
		fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", d.DisplayName(), d.Address)
	}
	return nil
}

func printStatus(w io.Writer, target string, status device.Status) {
	var c *color.Color
	switch status {
	case device.StatusConnected:
		c = color.New(color.FgGreen, color.Bold)
	case device.StatusNotFound:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	fmt.Fprintf(w, "%s: %s\n", target, c.Sprint(string(status)))
}
