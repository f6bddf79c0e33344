// Package rover speaks the single-byte command protocol of an Arduino car
// driven through an HC-0x serial module.
package rover

import "fmt"

// DefaultDevice is the module name the car firmware advertises.
const DefaultDevice = "HC-02"

// Command is an outbound byte.
type Command byte

const (
	Forward             Command = 'w'
	Left                Command = 'a'
	Backward            Command = 's'
	Right               Command = 'd'
	Stop                Command = 'f'
	ServoRight          Command = 'r'
	ServoLeft           Command = 'l'
	ServoForward        Command = 'z'
	ChangeNormalSpeed   Command = 'n' // followed by the speed byte
	ChangeMinObjectDist Command = 'm' // followed by the distance in cm
)

func (c Command) String() string {
	switch c {
	case Forward:
		return "forward"
	case Left:
		return "left"
	case Backward:
		return "backward"
	case Right:
		return "right"
	case Stop:
		return "stop"
	case ServoRight:
		return "servo-right"
	case ServoLeft:
		return "servo-left"
	case ServoForward:
		return "servo-forward"
	case ChangeNormalSpeed:
		return "change-normal-speed"
	case ChangeMinObjectDist:
		return "change-min-object-dist"
	default:
		return fmt.Sprintf("command(%q)", byte(c))
	}
}

// Message is an inbound byte reported by the car.
type Message byte

const (
	ObstacleDetected Message = 'o'
	NoObstacle       Message = 'p'
)

// Known reports whether m is part of the protocol.
func (m Message) Known() bool {
	return m == ObstacleDetected || m == NoObstacle
}

func (m Message) String() string {
	switch m {
	case ObstacleDetected:
		return "obstacle-detected"
	case NoObstacle:
		return "no-obstacle"
	default:
		return fmt.Sprintf("unknown(%q)", byte(m))
	}
}

// Orientation of the distance sensor servo.
type Orientation int

const (
	OrientationForward Orientation = iota
	OrientationLeft
	OrientationRight
)

func (o Orientation) String() string {
	switch o {
	case OrientationLeft:
		return "left"
	case OrientationRight:
		return "right"
	default:
		return "forward"
	}
}
