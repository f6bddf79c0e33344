package rover

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppctl/internal/device"
)

const (
	DefaultNormalSpeed     byte = 100
	DefaultMinObjectDistCM byte = 15

	// DefaultEventBufferSize is the number of inbound messages kept between
	// Events calls. Older ones are overwritten.
	DefaultEventBufferSize uint32 = 64

	// sceneUnitsPerCM converts a distance in cm to the unit used by the
	// host application's scene.
	sceneUnitsPerCM = 0.1
)

// ErrNotConnected is returned by commands while no session is open.
var ErrNotConnected = errors.New("rover is not connected")

// Link is the serial connection the car is reached through. *connector.Connector
// and *connector.Session both satisfy it.
type Link interface {
	Write(data string) error
	ReadLine() (string, error)
}

// Event is an inbound message with its arrival time.
type Event struct {
	Message  Message
	Received time.Time
}

// Controller tracks the car's motion state and suppresses commands that
// would not change it.
type Controller struct {
	link   Link
	logger *logrus.Logger

	mu            sync.Mutex
	moving        bool
	rotating      bool
	servo         Orientation
	normalSpeed   byte
	minObjectDist float64

	events      mpmc.RichOverlappedRingBuffer[Event]
	overwritten atomic.Uint64
}

// New returns a Controller with the firmware defaults. bufferSize 0 selects
// DefaultEventBufferSize.
func New(link Link, bufferSize uint32, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if bufferSize == 0 {
		bufferSize = DefaultEventBufferSize
	}
	return &Controller{
		link:          link,
		logger:        logger,
		servo:         OrientationForward,
		normalSpeed:   DefaultNormalSpeed,
		minObjectDist: float64(DefaultMinObjectDistCM) * sceneUnitsPerCM,
		events:        mpmc.NewOverlappedRingBuffer[Event](bufferSize),
	}
}

func (c *Controller) write(payload []byte, what string) error {
	if c.link == nil {
		return ErrNotConnected
	}
	if err := c.link.Write(string(payload)); err != nil {
		if errors.Is(err, device.ErrNoSession) {
			return ErrNotConnected
		}
		return fmt.Errorf("rover %s: %w", what, err)
	}
	c.logger.WithField("command", what).Debug("Rover command sent")
	return nil
}

func (c *Controller) send(cmd Command) error {
	return c.write([]byte{byte(cmd)}, cmd.String())
}

// MoveForward is ignored while already moving.
func (c *Controller) MoveForward() error { return c.startMoving(Forward) }

// MoveBackward is ignored while already moving.
func (c *Controller) MoveBackward() error { return c.startMoving(Backward) }

func (c *Controller) startMoving(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moving {
		return nil
	}
	if err := c.send(cmd); err != nil {
		return err
	}
	c.moving = true
	return nil
}

// StopMoving is ignored unless moving.
func (c *Controller) StopMoving() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.moving {
		return nil
	}
	if err := c.send(Stop); err != nil {
		return err
	}
	c.moving = false
	return nil
}

// RotateLeft is ignored while already rotating.
func (c *Controller) RotateLeft() error { return c.startRotating(Left) }

// RotateRight is ignored while already rotating.
func (c *Controller) RotateRight() error { return c.startRotating(Right) }

func (c *Controller) startRotating(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rotating {
		return nil
	}
	if err := c.send(cmd); err != nil {
		return err
	}
	c.rotating = true
	return nil
}

// StopRotating is ignored unless rotating.
func (c *Controller) StopRotating() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rotating {
		return nil
	}
	if err := c.send(Stop); err != nil {
		return err
	}
	c.rotating = false
	return nil
}

// Servo turns the sensor servo, unless it already faces o.
func (c *Controller) Servo(o Orientation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.servo == o {
		return nil
	}

	var cmd Command
	switch o {
	case OrientationLeft:
		cmd = ServoLeft
	case OrientationRight:
		cmd = ServoRight
	case OrientationForward:
		cmd = ServoForward
	default:
		return fmt.Errorf("invalid servo orientation %d", o)
	}
	if err := c.send(cmd); err != nil {
		return err
	}
	c.servo = o
	return nil
}

// SetNormalSpeed writes the command byte followed by the speed byte.
func (c *Controller) SetNormalSpeed(speed byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write([]byte{byte(ChangeNormalSpeed), speed}, ChangeNormalSpeed.String()); err != nil {
		return err
	}
	c.normalSpeed = speed
	return nil
}

// SetMinObjectDist writes the command byte followed by the distance in cm.
func (c *Controller) SetMinObjectDist(cm byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write([]byte{byte(ChangeMinObjectDist), cm}, ChangeMinObjectDist.String()); err != nil {
		return err
	}
	c.minObjectDist = float64(cm) * sceneUnitsPerCM
	return nil
}

// Moving reports whether a move command is in effect.
func (c *Controller) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving
}

// Rotating reports whether a rotate command is in effect.
func (c *Controller) Rotating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotating
}

// ServoOrientation returns the direction the sensor servo faces.
func (c *Controller) ServoOrientation() Orientation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servo
}

// NormalSpeed returns the last speed written to the rover.
func (c *Controller) NormalSpeed() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.normalSpeed
}

// MinObjectDist returns the obstacle distance in scene units (cm / 10).
func (c *Controller) MinObjectDist() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minObjectDist
}

// Poll reads at most one line. A single-byte line is decoded, queued for
// Events and returned with ok set; anything else is ignored.
func (c *Controller) Poll() (ev Event, ok bool, err error) {
	if c.link == nil {
		return Event{}, false, ErrNotConnected
	}
	line, err := c.link.ReadLine()
	if err != nil {
		if errors.Is(err, device.ErrNoSession) {
			return Event{}, false, ErrNotConnected
		}
		return Event{}, false, err
	}
	if len(line) != 1 {
		if line != "" {
			c.logger.WithField("line", line).Debug("Ignoring non-command line from rover")
		}
		return Event{}, false, nil
	}

	ev = Event{Message: Message(line[0]), Received: time.Now()}
	overwrites, err := c.events.EnqueueM(ev)
	if err != nil {
		return ev, true, fmt.Errorf("queue rover event: %w", err)
	}
	c.overwritten.Add(uint64(overwrites))
	c.logger.WithField("message", ev.Message).Debug("Rover message received")
	return ev, true, nil
}

// Events drains queued inbound messages, oldest first.
func (c *Controller) Events() []Event {
	var out []Event
	for !c.events.IsEmpty() {
		ev, err := c.events.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// Overwritten counts events lost because Events was not called in time.
func (c *Controller) Overwritten() uint64 {
	return c.overwritten.Load()
}
