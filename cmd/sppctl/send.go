package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device> <data>",
	Short: "Send data to a device and optionally print its replies",
	Long: `Connects to a paired device, writes data and prints up to --wait reply
lines before disconnecting.

Examples:
  # AT command to an HC-06, print one reply line
  sppctl send HC-06 "AT+VERSION?" --eol none --wait 1

  # Text line, wait for two lines of reply
  sppctl send ESP32-BT "status" --wait 2 --timeout 3s

  # Raw bytes
  sppctl send HC-02 "6e c8" --hex --eol none`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendHex     bool
	sendEOL     string
	sendWait    int
	sendTimeout time.Duration
	sendAddress bool
)

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Parse data as hex (e.g. 'FF01'); text by default")
	sendCmd.Flags().StringVar(&sendEOL, "eol", "lf", "Line ending appended to the data (none, lf, crlf)")
	sendCmd.Flags().IntVar(&sendWait, "wait", 0, "Number of reply lines to print")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "How long to wait for the reply lines")
	sendCmd.Flags().BoolVar(&sendAddress, "address", false, "Treat the device argument as a Bluetooth address")
}

// lineEnding maps an --eol value to its bytes.
func lineEnding(eol string) (string, error) {
	switch strings.ToLower(eol) {
	case "none", "":
		return "", nil
	case "lf":
		return "\n", nil
	case "crlf":
		return "\r\n", nil
	default:
		return "", fmt.Errorf("invalid --eol %q: must be none, lf or crlf", eol)
	}
}

// parseSendData converts the data argument to bytes according to --hex.
func parseSendData(data string, isHex bool) ([]byte, error) {
	if !isHex {
		return []byte(data), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(data)
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	target := args[0]
	data, err := parseSendData(args[1], sendHex)
	if err != nil {
		return err
	}
	eol, err := lineEnding(sendEOL)
	if err != nil {
		return err
	}
	if sendWait < 0 {
		return fmt.Errorf("--wait must not be negative")
	}
	payload := append(data, eol...)

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Sending %d bytes to %s", len(payload), target),
		"Opening adapter", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	out := cmd.OutOrStdout()
	_, err = connector.RunSession(ctx, target, s.runOptions(sendAddress), s.logger, progress.Callback(),
		func(_ *connector.Connector, sess *connector.Session) (struct{}, error) {
			if err := sess.WriteBytes(payload); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, waitForLines(ctx, sess, sendWait, sendTimeout, s.cfg.PollInterval, func(line string) {
				fmt.Fprintln(out, line)
			})
		})
	return err
}

// waitForLines polls sess until n lines were handed to emit or timeout
// elapses. Read timeouts inside a partial line are retried.
func waitForLines(ctx context.Context, sess *connector.Session, n int, timeout, poll time.Duration, emit func(string)) error {
	if n == 0 {
		return nil
	}
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for got := 0; got < n; {
		line, ok, err := sess.TryReadLine()
		switch {
		case errors.Is(err, device.ErrTimeout):
		case err != nil:
			return err
		case ok:
			emit(line)
			got++
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: received %d of %d lines within %s", device.ErrTimeout, got, n, timeout)
		case <-ticker.C:
		}
	}
	return nil
}
