// Package pump switches the air pump that pressurizes the dispensing line.
//
// The pump is turned on by making its control line an output and off by
// making it an input again.  A line that was never configured, or that was
// left as an input, is floating and the pump is off, whatever level was last
// written to it.
package pump

import (
	"fmt"
	"sync"

	"github.com/hector9000/hector/hal"
)

// LineState is the state of the pump control line
type LineState int

const (
	// Floating is an undriven input; the pump is off
	Floating LineState = iota

	// Driving is an output; the pump is on
	Driving
)

func (s LineState) String() string {
	switch s {
	case Floating:
		return "floating"
	case Driving:
		return "driving"
	default:
		return fmt.Sprintf("LineState(%d)", int(s))
	}
}

// Pump is one pump on one GPIO line
type Pump struct {
	io  hal.DigitalIO
	pin int

	mu    sync.Mutex
	state LineState
}

// New returns a pump on pin.  Its state is Floating until Start.
func New(dio hal.DigitalIO, pin int) *Pump {
	return &Pump{io: dio, pin: pin}
}

// Init makes the control line an input so the pump is off
func (p *Pump) Init() error {
	return p.Stop()
}

// Start drives the control line
func (p *Pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.io.SetPinMode(p.pin, hal.Out); err != nil {
		return err
	}
	p.state = Driving
	return nil
}

// Stop releases the control line.  No output level is written; the line is
// only returned to input mode.
func (p *Pump) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.io.SetPinMode(p.pin, hal.In)
	if err == nil {
		p.state = Floating
	}
	return err
}

// State returns the last successfully set line state
func (p *Pump) State() LineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
