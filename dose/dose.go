// Package dose is the closed loop dispensing controller.
//
// A dose opens one valve with the line pressurized and polls the scale until
// the target weight is seen on two consecutive readings.  The dose is
// abandoned when the weight stops rising for longer than the timeout; the
// timeout clock restarts every time the weight climbs by more than
// progressDelta, so a slow but steady pour is never cut short.
//
// A reading below noiseFloor means the glass was tared while settling, or the
// cell has drifted.  The first such reading lowers the target by its
// magnitude; later ones are ignored.
package dose

import (
	"fmt"
	"sync"
	"time"

	"github.com/hector9000/hector/progress"
	"github.com/hector9000/hector/util"
)

const (
	// DefaultTimeout is the stall timeout used when a Request has none
	DefaultTimeout = 30 * time.Second

	// DefaultLabel is the progress label used when a Request has none
	DefaultLabel = "dose"

	pollInterval  = 100 * time.Millisecond
	noiseFloor    = -10.
	progressDelta = 3.
)

// Outcome is how a dose ended, when it did not end in an error
type Outcome int

const (
	// Completed means the target was reached
	Completed Outcome = iota

	// TimedOut means the weight stalled for longer than the timeout
	TimedOut

	// InvalidIndex means the valve does not exist; nothing was actuated
	InvalidIndex

	// ArmNotReady means the arm was not at OUT; nothing was actuated
	ArmNotReady
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case InvalidIndex:
		return "invalid index"
	case ArmNotReady:
		return "arm not ready"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome as its String
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Arm reports whether the glass is under the valves
type Arm interface {
	IsAtOutPosition() (bool, error)
}

// Valves opens and closes valves by index
type Valves interface {
	Valid(index int) bool
	Open(index int, open bool) error
	Close(index int) error
}

// Scale weighs the glass
type Scale interface {
	Tare() error
	ReadWeight() (float64, error)
}

// Pump pressurizes the line
type Pump interface {
	Start() error
	Stop() error
}

// Request is one dose
type Request struct {
	Valve  int
	Amount float64

	// Timeout is the longest the weight may stall, DefaultTimeout if zero
	Timeout time.Duration

	// Range is where this dose sits on the caller's progress bar.  The zero
	// Range means the whole bar.
	Range progress.Range

	// Label names the dose in progress reports, DefaultLabel if empty
	Label string
}

func (r Request) withDefaults() Request {
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	if r.Range == (progress.Range{}) {
		r.Range = progress.Full
	}
	if r.Label == "" {
		r.Label = DefaultLabel
	}
	return r
}

// Result describes a finished dose
type Result struct {
	Outcome Outcome

	// Target is the effective target after any negative offset correction
	Target float64

	// Weight is the last reading
	Weight float64

	// Compensated is true if the target was corrected for a negative offset
	Compensated bool

	Elapsed time.Duration
}

// Controller doses from a set of valves.  Only one dose runs at a time.
type Controller struct {
	arm    Arm
	valves Valves
	scale  Scale
	pump   Pump

	// Clock paces the polling loop and measures the timeout
	Clock util.Clock

	// Observer receives events from every dose
	Observer Observer

	mu sync.Mutex
}

// New returns a Controller
func New(arm Arm, valves Valves, scale Scale, pump Pump) *Controller {
	return &Controller{
		arm:      arm,
		valves:   valves,
		scale:    scale,
		pump:     pump,
		Clock:    util.SystemClock{},
		Observer: NopObserver{},
	}
}

func (c *Controller) observer() Observer {
	if c.Observer == nil {
		return NopObserver{}
	}
	return c.Observer
}

// shutdown stops the pump and closes the valve, attempting both
func (c *Controller) shutdown(valve int) error {
	return util.MergeErrors([]error{c.pump.Stop(), c.valves.Close(valve)})
}

// Dose dispenses req.Amount from req.Valve.  The arm must already be at OUT.
//
// InvalidIndex, ArmNotReady, and TimedOut are reported in the Result with a
// nil error.  A non-nil error is a hardware fault; the pump and valve have
// been shut down (as far as the hardware allows) before it is returned.
func (c *Controller) Dose(req Request, fn progress.Func) (res Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn = progress.Or(fn)
	obs := c.observer()
	req = req.withDefaults()
	start := c.Clock.Now()
	res.Target = req.Amount
	defer func() {
		res.Elapsed = c.Clock.Now().Sub(start)
		obs.DoseFinished(req, res, err)
	}()

	if !c.valves.Valid(req.Valve) {
		res.Outcome = InvalidIndex
		return res, nil
	}
	out, err := c.arm.IsAtOutPosition()
	if err != nil {
		return res, err
	}
	if !out {
		res.Outcome = ArmNotReady
		return res, nil
	}
	obs.DoseStarted(req)

	t0 := c.Clock.Now()
	if err = c.scale.Tare(); err != nil {
		return res, err
	}
	stopped := false
	defer func() {
		if err != nil && !stopped {
			if serr := c.shutdown(req.Valve); serr != nil {
				err = fmt.Errorf("%w; shutdown: %v", err, serr)
			}
		}
	}()
	if err = c.pump.Start(); err != nil {
		return res, err
	}
	if err = c.valves.Open(req.Valve, true); err != nil {
		return res, err
	}

	balance := true
	compensate := func(sr float64) {
		if balance && sr < noiseFloor {
			res.Target += sr
			res.Compensated = true
			balance = false
			obs.Compensated(req, sr, res.Target)
		}
	}

	sr, err := c.scale.ReadWeight()
	if err != nil {
		return res, err
	}
	res.Weight = sr
	compensate(sr)
	last := sr
	lastOver := false
	for {
		sr, err = c.scale.ReadWeight()
		if err != nil {
			return res, err
		}
		res.Weight = sr
		obs.Reading(req, sr)
		compensate(sr)
		if sr > res.Target {
			if lastOver {
				break
			}
			lastOver = true
		} else {
			lastOver = false
		}
		now := c.Clock.Now()
		if sr-last > progressDelta {
			t0 = now
			last = sr
		}
		if res.Target > 0 {
			fn(req.Label, req.Range.At(sr/res.Target))
		}
		if now.Sub(t0) > req.Timeout {
			stopped = true
			res.Outcome = TimedOut
			return res, c.shutdown(req.Valve)
		}
		c.Clock.Sleep(pollInterval)
	}

	stopped = true
	if err = c.shutdown(req.Valve); err != nil {
		return res, err
	}
	fn(req.Label, float64(req.Range.End))
	res.Outcome = Completed
	return res, nil
}
