package hal

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/hector9000/hector/mathx"
	"github.com/hector9000/hector/util"
)

// MockConfig describes the wiring of the simulated rig
type MockConfig struct {
	// EnablePin, StepPin, DirPin and SensePin are the arm driver lines.
	// Step pulses only move the arm while EnablePin is low.
	EnablePin, StepPin, DirPin, SensePin int

	// OutSteps is the number of steps from the IN end to the OUT sensor
	OutSteps int

	// ArmStart is the starting arm position in steps from the IN end
	ArmStart int

	// PumpPin is the pump control line.  Liquid flows while it is an output.
	PumpPin int

	// ValveOpen maps each valve channel to its open off tick.  Liquid flows
	// only while the pump is driving and at least one of these channels sits
	// at its open position.
	ValveOpen map[int]uint16

	// FlowRate is the weight gained per second while liquid flows
	FlowRate float64

	// CountsPerUnit is the raw load cell reading per unit of weight.  Samples
	// are divided by the reference unit, so a reference equal to
	// CountsPerUnit reads in weight units.  Defaults to 1
	CountsPerUnit float64

	// Noise is the amplitude of uniform noise added to each raw sample
	Noise float64

	// Clock integrates the flow.  Defaults to the system clock
	Clock util.Clock
}

// MockBoard is a simulated rig satisfying Board.  It keeps GPIO, PWM, and
// load cell state in memory and models the arm travel and the pour.
type MockBoard struct {
	sync.Mutex
	cfg MockConfig

	levels map[int]bool
	modes  map[int]PinMode
	pwm    map[int][2]uint16
	freq   float64
	writes map[int]int

	armPos int
	pulses int

	weight   float64
	tare     float64
	ref      float64
	lastFlow time.Time

	sampleErr error
	closed    bool
}

// NewMockBoard returns a new simulated rig.  All pins start as inputs.
func NewMockBoard(cfg MockConfig) *MockBoard {
	if cfg.Clock == nil {
		cfg.Clock = util.SystemClock{}
	}
	if cfg.CountsPerUnit == 0 {
		cfg.CountsPerUnit = 1
	}
	return &MockBoard{
		cfg:    cfg,
		levels: make(map[int]bool),
		modes:  make(map[int]PinMode),
		pwm:    make(map[int][2]uint16),
		writes: make(map[int]int),
		armPos: cfg.ArmStart,
		ref:    1,
	}
}

// DigitalWrite sets the level of a pin.  A rising edge on the step pin
// moves the arm one step if the driver is enabled.
func (m *MockBoard) DigitalWrite(pin int, level bool) error {
	m.Lock()
	defer m.Unlock()
	prev := m.levels[pin]
	m.levels[pin] = level
	m.writes[pin]++
	if pin == m.cfg.StepPin && level && !prev && !m.levels[m.cfg.EnablePin] {
		m.pulses++
		if m.levels[m.cfg.DirPin] {
			m.armPos++
		} else if m.armPos > 0 {
			m.armPos--
		}
	}
	return nil
}

// DigitalRead returns the level of a pin.  The sense pin is high once the
// arm has reached the OUT end.
func (m *MockBoard) DigitalRead(pin int) (bool, error) {
	m.Lock()
	defer m.Unlock()
	if pin == m.cfg.SensePin {
		return m.cfg.OutSteps > 0 && m.armPos >= m.cfg.OutSteps, nil
	}
	return m.levels[pin], nil
}

// SetPinMode changes the direction of a pin
func (m *MockBoard) SetPinMode(pin int, mode PinMode) error {
	m.Lock()
	defer m.Unlock()
	if pin == m.cfg.PumpPin {
		m.flow()
	}
	m.modes[pin] = mode
	return nil
}

// SetPWM stores the on and off ticks for a channel
func (m *MockBoard) SetPWM(channel int, on, off uint16) error {
	if err := ValidTicks(on); err != nil {
		return err
	}
	if err := ValidTicks(off); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.flow()
	m.pwm[channel] = [2]uint16{on, off}
	return nil
}

// SetPWMFreq stores the PWM frequency
func (m *MockBoard) SetPWMFreq(hz float64) error {
	m.Lock()
	defer m.Unlock()
	m.freq = hz
	return nil
}

// SampleRawWeight returns the mean of count noisy samples of the tared weight,
// in raw counts divided by the reference unit
func (m *MockBoard) SampleRawWeight(count int) (float64, error) {
	m.Lock()
	defer m.Unlock()
	if m.sampleErr != nil {
		return 0, m.sampleErr
	}
	m.flow()
	if count < 1 {
		count = 1
	}
	samples := make([]float64, count)
	for i := range samples {
		w := m.weight - m.tare + m.cfg.Noise*(rand.Float64()*2-1)
		samples[i] = w * m.cfg.CountsPerUnit / m.ref
	}
	return mathx.Mean(samples), nil
}

// SetReferenceUnit sets the divisor applied to raw samples
func (m *MockBoard) SetReferenceUnit(ref float64) error {
	if ref == 0 {
		return errors.New("reference unit must be nonzero")
	}
	m.Lock()
	defer m.Unlock()
	m.ref = ref
	return nil
}

// Reset clears the tare offset
func (m *MockBoard) Reset() error {
	m.Lock()
	defer m.Unlock()
	m.tare = 0
	return nil
}

// Tare zeroes the scale at the current weight
func (m *MockBoard) Tare() error {
	m.Lock()
	defer m.Unlock()
	m.flow()
	m.tare = m.weight
	return nil
}

// Close marks the board closed
func (m *MockBoard) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

// flowing is true when the pump drives and a valve is open.  Callers must
// hold the lock.
func (m *MockBoard) flowing() bool {
	if m.modes[m.cfg.PumpPin] != Out {
		return false
	}
	for ch, open := range m.cfg.ValveOpen {
		if v, ok := m.pwm[ch]; ok && v[1] == open {
			return true
		}
	}
	return false
}

// flow integrates the pour since the last call.  Callers must hold the lock
// and call it before changing the pump or a valve.
func (m *MockBoard) flow() {
	now := m.cfg.Clock.Now()
	if m.flowing() && !m.lastFlow.IsZero() {
		m.weight += m.cfg.FlowRate * now.Sub(m.lastFlow).Seconds()
	}
	m.lastFlow = now
}

// Mode returns the current mode of a pin
func (m *MockBoard) Mode(pin int) PinMode {
	m.Lock()
	defer m.Unlock()
	return m.modes[pin]
}

// Level returns the last level written to a pin
func (m *MockBoard) Level(pin int) bool {
	m.Lock()
	defer m.Unlock()
	return m.levels[pin]
}

// PWMValue returns the on and off ticks last written to a channel
func (m *MockBoard) PWMValue(channel int) (on, off uint16) {
	m.Lock()
	defer m.Unlock()
	v := m.pwm[channel]
	return v[0], v[1]
}

// Writes returns the number of DigitalWrite calls made on a pin
func (m *MockBoard) Writes(pin int) int {
	m.Lock()
	defer m.Unlock()
	return m.writes[pin]
}

// PWMFreq returns the PWM frequency
func (m *MockBoard) PWMFreq() float64 {
	m.Lock()
	defer m.Unlock()
	return m.freq
}

// ArmPosition returns the arm position in steps from the IN end
func (m *MockBoard) ArmPosition() int {
	m.Lock()
	defer m.Unlock()
	return m.armPos
}

// Pulses returns the number of step pulses that reached the enabled driver
func (m *MockBoard) Pulses() int {
	m.Lock()
	defer m.Unlock()
	return m.pulses
}

// SetWeight places weight on the scale, as if a glass were set down
func (m *MockBoard) SetWeight(w float64) {
	m.Lock()
	defer m.Unlock()
	m.flow()
	m.weight = w
}

// ReferenceUnit returns the calibration reference last set
func (m *MockBoard) ReferenceUnit() float64 {
	m.Lock()
	defer m.Unlock()
	return m.ref
}

// SetSampleError makes every following SampleRawWeight fail with err.
// nil restores normal operation.
func (m *MockBoard) SetSampleError(err error) {
	m.Lock()
	defer m.Unlock()
	m.sampleErr = err
}

// Closed returns true after Close
func (m *MockBoard) Closed() bool {
	m.Lock()
	defer m.Unlock()
	return m.closed
}
