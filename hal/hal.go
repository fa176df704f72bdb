// Package hal describes the actuator and sensor surface the rig is built on.
//
// Nothing in this package knows what is plugged into a pin or channel;
// each component is handed the interface it needs plus its own pin or
// channel numbers at construction.  Concrete implementations are the
// ioboard package (real hardware over serial or TCP) and MockBoard.
package hal

import (
	"fmt"
	"io"
)

// PinMode is the direction of a GPIO line
type PinMode int

const (
	// In is an undriven (high impedance) input
	In PinMode = iota

	// Out is a driven output
	Out
)

// PWMTicks is the resolution of a PWM channel, 12 bits
const PWMTicks = 4096

func (m PinMode) String() string {
	switch m {
	case In:
		return "IN"
	case Out:
		return "OUT"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// DigitalIO reads, writes, and configures GPIO lines
type DigitalIO interface {
	DigitalWrite(pin int, level bool) error
	DigitalRead(pin int) (bool, error)
	SetPinMode(pin int, mode PinMode) error
}

// PWM drives servo channels.  on and off are tick counts in [0, PWMTicks)
type PWM interface {
	SetPWM(channel int, on, off uint16) error
	SetPWMFreq(hz float64) error
}

// LoadCell is a weight sensor amplifier such as the HX711
type LoadCell interface {
	// SampleRawWeight averages count samples and applies the reference unit
	SampleRawWeight(count int) (float64, error)
	SetReferenceUnit(ref float64) error
	Reset() error
	Tare() error
}

// Board is everything the rig needs from one piece of hardware
type Board interface {
	io.Closer
	DigitalIO
	PWM
	LoadCell
}

// ValidTicks returns an error if v cannot be written to a PWM channel
func ValidTicks(v uint16) error {
	if v >= PWMTicks {
		return fmt.Errorf("PWM value %d exceeds 12-bit range [0,%d)", v, PWMTicks)
	}
	return nil
}
