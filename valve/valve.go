// Package valve maps logical valve indices to servo channels and positions.
package valve

import (
	"errors"
	"fmt"

	"github.com/hector9000/hector/hal"
)

// ErrInvalidIndex is returned for a valve index outside the usable table
var ErrInvalidIndex = errors.New("invalid valve index")

// Spec is the servo channel of one valve and its two positions in PWM ticks
type Spec struct {
	Channel int    `yaml:"Channel" koanf:"Channel" json:"channel"`
	Open    uint16 `yaml:"Open" koanf:"Open" json:"open"`
	Closed  uint16 `yaml:"Closed" koanf:"Closed" json:"closed"`
}

// Bank is a table of valves on one PWM controller.  It holds no state of
// its own beyond the table.
type Bank struct {
	pwm   hal.PWM
	specs []Spec
}

// NewBank returns a bank driving the valves in specs, in index order
func NewBank(pwm hal.PWM, specs []Spec) *Bank {
	cp := make([]Spec, len(specs))
	copy(cp, specs)
	return &Bank{pwm: pwm, specs: cp}
}

// Len is the number of configured valves
func (b *Bank) Len() int {
	return len(b.specs)
}

// Valid reports whether index addresses a usable valve.  The last entry of
// the table is held in reserve and is not usable, so the valid indices are
// 0 through Len()-2.
func (b *Bank) Valid(index int) bool {
	return index >= 0 && index < len(b.specs)-1
}

// Spec returns the table entry at index
func (b *Bank) Spec(index int) (Spec, error) {
	if !b.Valid(index) {
		return Spec{}, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(b.specs))
	}
	return b.specs[index], nil
}

// Open drives valve index to its open position if open is true, else closed
func (b *Bank) Open(index int, open bool) error {
	s, err := b.Spec(index)
	if err != nil {
		return err
	}
	pos := s.Closed
	if open {
		pos = s.Open
	}
	return b.pwm.SetPWM(s.Channel, 0, pos)
}

// Close drives valve index to its closed position
func (b *Bank) Close(index int) error {
	return b.Open(index, false)
}

// CloseAll closes every configured valve, including the reserved last
// entry, returning the first error
func (b *Bank) CloseAll() error {
	var first error
	for _, s := range b.specs {
		if err := b.pwm.SetPWM(s.Channel, 0, s.Closed); err != nil && first == nil {
			first = err
		}
	}
	return first
}
