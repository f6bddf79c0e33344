package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/groutine"
)

// termCmd represents the term command
var termCmd = &cobra.Command{
	Use:   "term [device]",
	Short: "Interactive line terminal",
	Long: `Connects to a device and runs a line-oriented terminal: each line typed on
stdin is sent with the chosen line ending, each line received is printed.
Press Ctrl+C or Ctrl+D to disconnect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTerm,
}

var (
	termEOL     string
	termAddress bool
)

func init() {
	termCmd.Flags().StringVar(&termEOL, "eol", "lf", "Line ending sent after each input line (none, lf, crlf)")
	termCmd.Flags().BoolVar(&termAddress, "address", false, "Treat the device argument as a Bluetooth address")
}

func runTerm(cmd *cobra.Command, args []string) error {
	eol, err := lineEnding(termEOL)
	if err != nil {
		return err
	}
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", target),
		"Opening adapter", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = connector.RunSession(ctx, target, s.runOptions(termAddress), s.logger, progress.Callback(),
		func(_ *connector.Connector, sess *connector.Session) (struct{}, error) {
			d := sess.Device()
			fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s (%s). Ctrl+C to quit.\n", d.DisplayName(), d.Address)
			return struct{}{}, runTerminal(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout(), eol, s.cfg.PollInterval, s.logger)
		})
	return err
}

// termLinger is how long replies are still printed after input ends.
const termLinger = 500 * time.Millisecond

// runTerminal pumps in to sess and sess to out until ctx is done or the
// session fails. After in reaches EOF replies are printed for termLinger.
func runTerminal(ctx context.Context, sess *connector.Session, in io.Reader, out io.Writer, eol string, poll time.Duration, logger *logrus.Logger) error {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputErr := make(chan error, 1)
	groutine.Go(ctx, "term-stdin", func(ctx context.Context) {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := sess.Write(scanner.Text() + eol); err != nil {
				inputErr <- err
				return
			}
		}
		inputErr <- scanner.Err()
	})

	waitInput := (<-chan error)(inputErr)
	var linger <-chan time.Time
	prompt := color.New(color.FgCyan)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		for {
			line, ok, err := sess.TryReadLine()
			if errors.Is(err, device.ErrTimeout) {
				break
			}
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Fprintf(out, "%s %s\n", prompt.Sprint("<"), line)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-waitInput:
			if err != nil {
				return err
			}
			logger.Debug("Input closed, leaving terminal")
			waitInput = nil
			linger = time.After(termLinger)
		case <-linger:
			return nil
		case <-ticker.C:
		}
	}
}
