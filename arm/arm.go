// Package arm drives the glass carriage between its IN and OUT ends with an
// A4988 stepper driver.
//
// Only the OUT end has a sensor.  Moving out steps until the sensor trips or
// 110% of the nominal travel has been stepped.  Moving in homes to OUT first
// and then steps the nominal travel back blind.
//
// The driver's enable line is active low; it is held high (disabled) at all
// times except while stepping.
package arm

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hector9000/hector/hal"
	"github.com/hector9000/hector/progress"
	"github.com/hector9000/hector/util"
)

// State is the position of the arm
type State int

const (
	// Unknown means the arm is somewhere short of the OUT sensor
	Unknown State = iota

	// In means the arm finished a move to the IN end
	In

	// Out means the OUT sensor is tripped
	Out

	// Moving means a move is in progress
	Moving
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case In:
		return "in"
	case Out:
		return "out"
	case Moving:
		return "moving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// LabelOut is the progress label of MoveOut
	LabelOut = "arm_out"

	// LabelIn is the progress label of the return leg of MoveIn
	LabelIn = "arm_in"

	// halfStep is each phase of a step pulse
	halfStep = time.Millisecond

	// overtravel bounds a move out that never trips the sensor
	overtravel = 1.1
)

// Pins are the GPIO assignments of the driver and the OUT sensor
type Pins struct {
	Enable int `yaml:"Enable" koanf:"Enable"`
	Reset  int `yaml:"Reset" koanf:"Reset"`
	Sleep  int `yaml:"Sleep" koanf:"Sleep"`
	Step   int `yaml:"Step" koanf:"Step"`
	Dir    int `yaml:"Dir" koanf:"Dir"`
	Sense  int `yaml:"Sense" koanf:"Sense"`
}

// Positioner moves the arm.  Moves are serialized.
type Positioner struct {
	io       hal.DigitalIO
	pins     Pins
	numSteps int

	// Clock paces the step pulses
	Clock util.Clock

	// Logger, if not nil, receives a line at the end of each move
	Logger *log.Logger

	mu     sync.Mutex
	moving int32
}

// New returns a Positioner with the nominal travel of numSteps
func New(dio hal.DigitalIO, pins Pins, numSteps int) *Positioner {
	return &Positioner{io: dio, pins: pins, numSteps: numSteps, Clock: util.SystemClock{}}
}

// NumSteps is the nominal IN to OUT travel in steps
func (p *Positioner) NumSteps() int {
	return p.numSteps
}

// Init configures the driver lines, leaving the driver disabled, and the
// sensor line as an input
func (p *Positioner) Init() error {
	for _, pin := range []int{p.pins.Enable, p.pins.Reset, p.pins.Sleep} {
		if err := p.io.SetPinMode(pin, hal.Out); err != nil {
			return err
		}
		if err := p.io.DigitalWrite(pin, true); err != nil {
			return err
		}
	}
	for _, pin := range []int{p.pins.Step, p.pins.Dir} {
		if err := p.io.SetPinMode(pin, hal.Out); err != nil {
			return err
		}
	}
	return p.io.SetPinMode(p.pins.Sense, hal.In)
}

// Disable de-energizes the driver
func (p *Positioner) Disable() error {
	return p.io.DigitalWrite(p.pins.Enable, true)
}

func (p *Positioner) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// IsAtOutPosition reads the OUT sensor
func (p *Positioner) IsAtOutPosition() (bool, error) {
	return p.io.DigitalRead(p.pins.Sense)
}

// State returns Moving during a move, otherwise Out or Unknown from the sensor.
// In is never reported here since there is no sensor at that end.
func (p *Positioner) State() (State, error) {
	if atomic.LoadInt32(&p.moving) == 1 {
		return Moving, nil
	}
	out, err := p.IsAtOutPosition()
	if err != nil {
		return Unknown, err
	}
	if out {
		return Out, nil
	}
	return Unknown, nil
}

func (p *Positioner) pulse() error {
	if err := p.io.DigitalWrite(p.pins.Step, false); err != nil {
		return err
	}
	p.Clock.Sleep(halfStep)
	if err := p.io.DigitalWrite(p.pins.Step, true); err != nil {
		return err
	}
	p.Clock.Sleep(halfStep)
	return nil
}

// begin enables the driver pointing toward out (true) or in.  The returned
// func disables the driver and must be deferred.
func (p *Positioner) begin(out bool, err *error) (func(), error) {
	atomic.StoreInt32(&p.moving, 1)
	end := func() {
		derr := p.Disable()
		if *err == nil && derr != nil {
			*err = derr
		}
		atomic.StoreInt32(&p.moving, 0)
	}
	if e := p.io.DigitalWrite(p.pins.Enable, false); e != nil {
		return end, e
	}
	return end, p.io.DigitalWrite(p.pins.Dir, out)
}

// MoveOut steps toward the OUT end until the sensor trips, reporting progress
// after every step.  If the sensor has not tripped after 110% of the nominal
// travel the move stops and still returns Out.
func (p *Positioner) MoveOut(fn progress.Func) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moveOut(progress.Or(fn))
}

func (p *Positioner) moveOut(fn progress.Func) (st State, err error) {
	end, err := p.begin(true, &err)
	defer end()
	if err != nil {
		return Unknown, err
	}
	limit := int(float64(p.numSteps) * overtravel)
	for i := 0; i < limit; i++ {
		out, err := p.IsAtOutPosition()
		if err != nil {
			return Unknown, err
		}
		if out {
			p.logf("arm is in OUT position")
			fn(LabelOut, 100)
			return Out, nil
		}
		if err := p.pulse(); err != nil {
			return Unknown, err
		}
		fn(LabelOut, float64(i)*100/float64(p.numSteps))
	}
	p.logf("arm is in OUT position (with timeout)")
	return Out, nil
}

// MoveIn homes to the OUT end, then steps the nominal travel back toward IN,
// reporting every tenth step
func (p *Positioner) MoveIn(fn progress.Func) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn = progress.Or(fn)
	if _, err := p.moveOut(fn); err != nil {
		return Unknown, err
	}
	return p.moveIn(fn)
}

func (p *Positioner) moveIn(fn progress.Func) (st State, err error) {
	end, err := p.begin(false, &err)
	defer end()
	if err != nil {
		return Unknown, err
	}
	for i := p.numSteps; i > 0; i-- {
		if err := p.pulse(); err != nil {
			return Unknown, err
		}
		if i%10 == 0 {
			fn(LabelIn, float64(i)*100/float64(p.numSteps))
		}
	}
	p.logf("arm is in IN position")
	return In, nil
}
