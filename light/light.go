// Package light switches the status light
package light

import "github.com/hector9000/hector/hal"

// Light is a lamp on a digital output
type Light struct {
	io  hal.DigitalIO
	pin int
}

// New returns a light on pin
func New(dio hal.DigitalIO, pin int) *Light {
	return &Light{io: dio, pin: pin}
}

// Init makes the pin an output and turns the light off
func (l *Light) Init() error {
	if err := l.io.SetPinMode(l.pin, hal.Out); err != nil {
		return err
	}
	return l.Off()
}

// On turns the light on
func (l *Light) On() error {
	return l.io.DigitalWrite(l.pin, true)
}

// Off turns the light off
func (l *Light) Off() error {
	return l.io.DigitalWrite(l.pin, false)
}

// IsOn reads back the pin
func (l *Light) IsOn() (bool, error) {
	return l.io.DigitalRead(l.pin)
}
