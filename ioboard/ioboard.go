// Package ioboard talks to the microcontroller that hosts the rig's GPIO
// lines, the PCA9685 servo expander, and the HX711 load cell amplifier.
//
// The board speaks a newline terminated ASCII protocol.  Every frame,
// in both directions, ends in a star and the XMODEM CRC-16 of the frame body
// as four hex digits.  Commands are
//
//	DW pin 0|1       digital write
//	DR pin           digital read, replies OK 0|1
//	PM pin IN|OUT    pin mode
//	PWM ch on off    servo channel ticks
//	PF hz            PWM frequency
//	LS count         averaged load cell sample, replies OK value
//	LR ref           load cell reference unit
//	LZ               load cell reset
//	LT               load cell tare
//
// and the board replies OK [value] or ERR message.
package ioboard

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hector9000/hector/comm"
	"github.com/hector9000/hector/hal"
)

// Board is a connection to an I/O board and satisfies hal.Board
type Board struct {
	// Link carries the frames.  It is opened before every command, so it
	// must treat Open on an open link as a no-op.
	Link comm.Communicator

	// Logger, if not nil, receives every exchange with the board
	Logger *log.Logger
}

// New creates a new Board on a serial port or TCP address.  The connection is
// opened on first use.  A zero timeout uses comm.DefaultTimeout.
func New(addr string, serial bool, baud int, timeout time.Duration) *Board {
	rd := comm.NewRemoteDevice(addr, serial)
	rd.Baud = baud
	rd.Timeout = timeout
	return &Board{Link: rd}
}

// Close closes the link
func (b *Board) Close() error {
	return b.Link.Close()
}

// do sends one command and returns the value of the reply
func (b *Board) do(cmd string, args ...interface{}) (string, error) {
	if err := b.Link.Open(); err != nil {
		return "", err
	}
	tx := encode(cmd, args...)
	rx, err := b.Link.SendRecv(tx)
	if b.Logger != nil {
		b.Logger.Printf("%s -> %s", tx, rx)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return decode(cmd, rx)
}

// DigitalWrite sets the level of an output pin
func (b *Board) DigitalWrite(pin int, level bool) error {
	_, err := b.do("DW", pin, level)
	return err
}

// DigitalRead reads the level of a pin
func (b *Board) DigitalRead(pin int) (bool, error) {
	resp, err := b.do("DR", pin)
	if err != nil {
		return false, err
	}
	switch resp {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("DR: unexpected level %q", resp)
	}
}

// SetPinMode configures a pin as an input or output
func (b *Board) SetPinMode(pin int, mode hal.PinMode) error {
	_, err := b.do("PM", pin, mode.String())
	return err
}

// SetPWM writes on and off ticks to a servo channel
func (b *Board) SetPWM(channel int, on, off uint16) error {
	if err := hal.ValidTicks(on); err != nil {
		return err
	}
	if err := hal.ValidTicks(off); err != nil {
		return err
	}
	_, err := b.do("PWM", channel, on, off)
	return err
}

// SetPWMFreq sets the servo expander frequency
func (b *Board) SetPWMFreq(hz float64) error {
	_, err := b.do("PF", hz)
	return err
}

// SampleRawWeight returns the average of count load cell samples
func (b *Board) SampleRawWeight(count int) (float64, error) {
	resp, err := b.do("LS", count)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, fmt.Errorf("LS: %w", err)
	}
	return f, nil
}

// SetReferenceUnit sets the load cell calibration
func (b *Board) SetReferenceUnit(ref float64) error {
	_, err := b.do("LR", ref)
	return err
}

// Reset resets the load cell amplifier
func (b *Board) Reset() error {
	_, err := b.do("LZ")
	return err
}

// Tare zeroes the load cell at its current reading
func (b *Board) Tare() error {
	_, err := b.do("LT")
	return err
}
