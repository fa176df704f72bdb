// Package finger drives the three position servo used to ring the bell
// when a drink is ready.
package finger

import (
	"errors"
	"fmt"
	"time"

	"github.com/hector9000/hector/hal"
	"github.com/hector9000/hector/util"
)

// ErrInvalidPosition is returned for a position outside the table
var ErrInvalidPosition = errors.New("invalid finger position")

// pingPhase is the hold time of each half of a ping
const pingPhase = 150 * time.Millisecond

// Positions of the finger servo
const (
	Retracted = 0
	Extended  = 1
	Alternate = 2
)

// Finger is a servo on one PWM channel with three positions in ticks
type Finger struct {
	pwm       hal.PWM
	channel   int
	positions [3]uint16

	// Clock paces the ping gesture
	Clock util.Clock
}

// New returns a finger on channel
func New(pwm hal.PWM, channel int, positions [3]uint16) *Finger {
	return &Finger{pwm: pwm, channel: channel, positions: positions, Clock: util.SystemClock{}}
}

// Set moves the finger to position pos
func (f *Finger) Set(pos int) error {
	if pos < 0 || pos >= len(f.positions) {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, pos)
	}
	return f.pwm.SetPWM(f.channel, 0, f.positions[pos])
}

// Ping swings between Extended and Alternate num times, then rests at
// Extended if retract is true or Retracted otherwise
func (f *Finger) Ping(num int, retract bool) error {
	if err := f.Set(Extended); err != nil {
		return err
	}
	for i := 0; i < num; i++ {
		if err := f.Set(Extended); err != nil {
			return err
		}
		f.Clock.Sleep(pingPhase)
		if err := f.Set(Alternate); err != nil {
			return err
		}
		f.Clock.Sleep(pingPhase)
	}
	if retract {
		return f.Set(Extended)
	}
	return f.Set(Retracted)
}
