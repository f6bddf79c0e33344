package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sppctl/connector"
	"github.com/srg/sppctl/internal/device"
	"github.com/srg/sppctl/internal/groutine"
	"github.com/srg/sppctl/internal/rover"
	"golang.org/x/term"
)

// driveCmd represents the drive command
var driveCmd = &cobra.Command{
	Use:   "drive [device]",
	Short: "Drive an Arduino rover from the keyboard",
	Long: `Connects to a rover speaking the single-byte command protocol and maps
keys to commands. The terminal is switched to raw mode while driving.

  w / s     move forward / backward      x  stop moving
  a / d     rotate left / right          c  stop rotating
  space     stop moving and rotating
  j / k / l servo left / forward / right
  + / -     normal speed up / down by 10
  ] / [     obstacle distance up / down by 1cm
  q         quit

Obstacle reports from the rover are printed as they arrive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDrive,
}

var driveAddress bool

func init() {
	driveCmd.Flags().BoolVar(&driveAddress, "address", false, "Treat the device argument as a Bluetooth address")
}

const (
	keyCtrlC = 0x03
	keyCtrlD = 0x04

	speedStep = 10
)

func runDrive(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	target, err := s.target(args, s.cfg.Rover.Device)
	if err != nil {
		return err
	}
	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return fmt.Errorf("drive needs an interactive terminal")
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", target), "Opening adapter", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = connector.RunSession(ctx, target, s.runOptions(driveAddress), s.logger, progress.Callback(),
		func(c *connector.Connector, _ *connector.Session) (struct{}, error) {
			r := rover.New(c, 0, s.logger)
			if err := applyRoverSettings(r, s.cfg.Rover.NormalSpeed, s.cfg.Rover.MinObjectDistCM); err != nil {
				return struct{}{}, err
			}

			state, err := term.MakeRaw(stdin)
			if err != nil {
				return struct{}{}, fmt.Errorf("failed to enter raw mode: %w", err)
			}
			defer func() { _ = term.Restore(stdin, state) }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Driving %s. Press q to quit.\r\n", target)
			return struct{}{}, driveLoop(ctx, r, os.Stdin, out, s.cfg.PollInterval)
		})
	return err
}

// applyRoverSettings sends configured values that differ from the firmware defaults.
func applyRoverSettings(r *rover.Controller, speed, distCM int) error {
	if speed != int(rover.DefaultNormalSpeed) {
		if err := r.SetNormalSpeed(byte(speed)); err != nil {
			return err
		}
	}
	if distCM != int(rover.DefaultMinObjectDistCM) {
		if err := r.SetMinObjectDist(byte(distCM)); err != nil {
			return err
		}
	}
	return nil
}

// driveLoop feeds keys from in to the rover and prints rover events until
// quit, EOF or ctx is done.
func driveLoop(ctx context.Context, r *rover.Controller, in io.Reader, out io.Writer, poll time.Duration) error {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan byte, 16)
	groutine.Go(ctx, "drive-keyboard", func(ctx context.Context) {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if err != nil {
				return
			}
			if n == 1 {
				select {
				case keys <- buf[0]:
				case <-ctx.Done():
					return
				}
			}
		}
	})

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			quit, err := handleKey(r, key)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		case <-ticker.C:
			if _, _, err := r.Poll(); err != nil && !errors.Is(err, device.ErrTimeout) {
				return err
			}
			for _, ev := range r.Events() {
				fmt.Fprintf(out, "[%s] %s\r\n", ev.Received.Format("15:04:05"), ev.Message)
			}
		}
	}
}

// handleKey applies one key press. quit is true for q, Ctrl+C and Ctrl+D.
func handleKey(r *rover.Controller, key byte) (quit bool, err error) {
	switch key {
	case 'q', 'Q', keyCtrlC, keyCtrlD:
		return true, nil
	case 'w':
		return false, r.MoveForward()
	case 's':
		return false, r.MoveBackward()
	case 'x':
		return false, r.StopMoving()
	case 'a':
		return false, r.RotateLeft()
	case 'd':
		return false, r.RotateRight()
	case 'c':
		return false, r.StopRotating()
	case ' ':
		if err := r.StopMoving(); err != nil {
			return false, err
		}
		return false, r.StopRotating()
	case 'j':
		return false, r.Servo(rover.OrientationLeft)
	case 'k':
		return false, r.Servo(rover.OrientationForward)
	case 'l':
		return false, r.Servo(rover.OrientationRight)
	case '+', '=':
		return false, r.SetNormalSpeed(clampByte(int(r.NormalSpeed()) + speedStep))
	case '-':
		return false, r.SetNormalSpeed(clampByte(int(r.NormalSpeed()) - speedStep))
	case ']':
		return false, r.SetMinObjectDist(clampByte(int(r.MinObjectDist()*10+0.5) + 1))
	case '[':
		return false, r.SetMinObjectDist(clampByte(int(r.MinObjectDist()*10+0.5) - 1))
	default:
		return false, nil
	}
}

func clampByte(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}
