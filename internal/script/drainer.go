package script

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/groutine"
)

const drainTimeout = 100 * time.Millisecond

// OutputDrainer copies captured script output to writers in the background.
type OutputDrainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

// Cancel stops the drainer after flushing what is already queued.
func (d *OutputDrainer) Cancel() {
	d.cancelOnce.Do(func() { close(d.stop) })
}

// Wait blocks until the drainer goroutine has exited.
func (d *OutputDrainer) Wait() {
	d.wg.Wait()
}

// NewOutputDrainer starts draining records until the channel closes, Cancel
// is called or ctx is done. Nil writers discard.
func NewOutputDrainer(ctx context.Context, records <-chan OutputRecord, logger *logrus.Logger, stdout, stderr io.Writer) *OutputDrainer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &OutputDrainer{stop: make(chan struct{})}
	d.wg.Add(1)
	groutine.Go(ctx, "script-output-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.Name(ctx))

		for {
			select {
			case rec, ok := <-records:
				if !ok {
					return
				}
				writeRecord(rec, stdout, stderr, logger)
			case <-d.stop:
				flush(records, stdout, stderr, logger, "stop")
				return
			case <-ctx.Done():
				flush(records, stdout, stderr, logger, "context-done")
				return
			}
		}
	})
	return d
}

func writeRecord(rec OutputRecord, stdout, stderr io.Writer, logger *logrus.Logger) {
	w := stdout
	if rec.Source == "stderr" {
		w = stderr
	}
	if _, err := fmt.Fprint(w, rec.Content); err != nil {
		logger.WithFields(logrus.Fields{
			"source": rec.Source,
			"error":  err,
		}).Warn("Output drainer: write failed")
	}
}

// flush drains whatever is left, bounded by drainTimeout.
func flush(records <-chan OutputRecord, stdout, stderr io.Writer, logger *logrus.Logger, reason string) {
	deadline := time.After(drainTimeout)
	drained := 0
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				logger.WithFields(logrus.Fields{"reason": reason, "drained": drained}).Debug("Output drainer: channel closed")
				return
			}
			drained++
			writeRecord(rec, stdout, stderr, logger)
		case <-deadline:
			logger.WithFields(logrus.Fields{"reason": reason, "drained": drained}).Debug("Output drainer: drain timeout reached")
			return
		}
	}
}
