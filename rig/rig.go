// Package rig assembles the components of one dispensing rig on one board
// and runs the sequences that use several of them.
//
// Every operation that moves something holds the rig lock, so the arm never
// moves during a dose and two doses never overlap.
package rig

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/hector9000/hector/arm"
	"github.com/hector9000/hector/config"
	"github.com/hector9000/hector/dose"
	"github.com/hector9000/hector/finger"
	"github.com/hector9000/hector/hal"
	"github.com/hector9000/hector/ioboard"
	"github.com/hector9000/hector/light"
	"github.com/hector9000/hector/progress"
	"github.com/hector9000/hector/pump"
	"github.com/hector9000/hector/scale"
	"github.com/hector9000/hector/util"
	"github.com/hector9000/hector/valve"
)

// MockFlowRate is the pour rate of the simulated rig, in weight units per second
const MockFlowRate = 50

// Options are the optional collaborators of a Rig
type Options struct {
	// Logger receives component and dose logs.  Defaults to discarding them
	Logger *log.Logger

	// Clock paces everything.  Defaults to the system clock
	Clock util.Clock

	// Observer receives dose events in addition to the log
	Observer dose.Observer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Clock == nil {
		o.Clock = util.SystemClock{}
	}
	return o
}

// Rig is a complete dispensing rig
type Rig struct {
	Board  hal.Board
	Arm    *arm.Positioner
	Valves *valve.Bank
	Scale  *scale.Scale
	Pump   *pump.Pump
	Finger *finger.Finger
	Light  *light.Light
	Dosing *dose.Controller

	cfg   config.Config
	last  *dose.Last
	log   *log.Logger
	clock util.Clock
	mu    sync.Mutex
}

// NewBoard returns the board described by cfg, simulated if cfg.Board.Mock
func NewBoard(cfg config.Config, opts Options) hal.Board {
	opts = opts.withDefaults()
	if cfg.Board.Mock {
		return hal.NewMockBoard(hal.MockConfig{
			EnablePin:     cfg.Arm.Pins.Enable,
			StepPin:       cfg.Arm.Pins.Step,
			DirPin:        cfg.Arm.Pins.Dir,
			SensePin:      cfg.Arm.Pins.Sense,
			OutSteps:      cfg.Arm.NumSteps * 9 / 10,
			PumpPin:       cfg.Pump.Pin,
			ValveOpen:     ValveOpenTicks(cfg),
			FlowRate:      MockFlowRate,
			CountsPerUnit: cfg.HX711.Reference,
			Clock:         opts.Clock,
		})
	}
	b := ioboard.New(cfg.Board.Addr, cfg.Board.Serial, cfg.Board.Baud, util.SecsToDuration(cfg.Board.Timeout))
	if cfg.Board.Debug {
		b.Logger = opts.Logger
	}
	return b
}

// ValveOpenTicks maps each configured valve channel to its open position
func ValveOpenTicks(cfg config.Config) map[int]uint16 {
	m := make(map[int]uint16, len(cfg.PCA9685.Valves))
	for _, v := range cfg.PCA9685.Valves {
		m[v.Channel] = v.Open
	}
	return m
}

// New wires a rig onto board.  Each component receives only the interface
// and the pins or channels it drives.
func New(cfg config.Config, board hal.Board, opts Options) *Rig {
	opts = opts.withDefaults()
	r := &Rig{
		Board:  board,
		Arm:    arm.New(board, cfg.Arm.Pins, cfg.Arm.NumSteps),
		Valves: valve.NewBank(board, cfg.PCA9685.Valves),
		Scale:  scale.New(board, cfg.HX711.Reference),
		Pump:   pump.New(board, cfg.Pump.Pin),
		Finger: finger.New(board, cfg.PCA9685.FingerChannel, cfg.PCA9685.FingerPositions),
		Light:  light.New(board, cfg.PCA9685.LightPin),
		cfg:    cfg,
		last:   &dose.Last{},
		log:    opts.Logger,
		clock:  opts.Clock,
	}
	if cfg.HX711.Samples > 0 {
		r.Scale.Samples = cfg.HX711.Samples
	}
	r.Arm.Clock = opts.Clock
	r.Arm.Logger = opts.Logger
	r.Finger.Clock = opts.Clock

	obs := dose.Observers{r.last, dose.LogObserver{Logger: opts.Logger}}
	if opts.Observer != nil {
		obs = append(obs, opts.Observer)
	}
	r.Dosing = dose.New(r.Arm, r.Valves, r.Scale, r.Pump)
	r.Dosing.Clock = opts.Clock
	r.Dosing.Observer = obs
	return r
}

// Open connects to the board described by cfg and wires a rig onto it
func Open(cfg config.Config, opts Options) *Rig {
	return New(cfg, NewBoard(cfg, opts), opts)
}

// Config returns the configuration the rig was built from
func (r *Rig) Config() config.Config {
	return r.cfg
}

// Init puts the hardware in a known safe state: servo frequency set, arm
// driver disabled, pump floating, scale calibrated and tared, finger
// retracted, light off, and every valve closed
func (r *Rig) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"pwm frequency", func() error { return r.Board.SetPWMFreq(r.cfg.PCA9685.Freq) }},
		{"arm", r.Arm.Init},
		{"pump", r.Pump.Init},
		{"light", r.Light.Init},
		{"scale", r.Scale.Init},
		{"finger", func() error { return r.Finger.Set(finger.Retracted) }},
		{"valves", r.Valves.CloseAll},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("init %s: %w", s.name, err)
		}
	}
	r.log.Println("rig initialized")
	return nil
}

// ArmOut moves the arm to OUT
func (r *Rig) ArmOut(fn progress.Func) (arm.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Arm.MoveOut(fn)
}

// ArmIn moves the arm to IN
func (r *Rig) ArmIn(fn progress.Func) (arm.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Arm.MoveIn(fn)
}

// Dose runs one dose.  A zero Timeout in req is replaced by the configured one.
func (r *Rig) Dose(req dose.Request, fn progress.Func) (dose.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dose(req, fn)
}

func (r *Rig) dose(req dose.Request, fn progress.Func) (dose.Result, error) {
	if req.Timeout == 0 {
		req.Timeout = util.SecsToDuration(r.cfg.Dose.Timeout)
	}
	return r.Dosing.Dose(req, fn)
}

// Ping rings the bell num times
func (r *Rig) Ping(num int, retract bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Finger.Ping(num, retract)
}

// SetFinger moves the finger to one of its positions
func (r *Rig) SetFinger(pos int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Finger.Set(pos)
}

// SetLight turns the status light on or off
func (r *Rig) SetLight(on bool) error {
	if on {
		return r.Light.On()
	}
	return r.Light.Off()
}

// LastDose returns the most recent finished dose
func (r *Rig) LastDose() (dose.Record, bool) {
	return r.last.Get()
}

// Close leaves the hardware safe and closes the board.  Every step is
// attempted even if an earlier one fails.
func (r *Rig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := []error{
		r.Pump.Stop(),
		r.Valves.CloseAll(),
		r.Arm.Disable(),
		r.Board.Close(),
	}
	if err := util.MergeErrors(errs); err != nil {
		return fmt.Errorf("close rig: %w", err)
	}
	return nil
}
