package dose

import (
	"errors"
	"testing"
	"time"

	"github.com/hector9000/hector/progress"
	"github.com/hector9000/hector/util"
)

type fakeArm struct {
	out bool
	err error
}

func (a *fakeArm) IsAtOutPosition() (bool, error) { return a.out, a.err }

type fakeValves struct {
	n      int
	open   map[int]bool
	opened int
}

func (v *fakeValves) Valid(i int) bool { return i >= 0 && i < v.n-1 }

func (v *fakeValves) Open(i int, open bool) error {
	v.open[i] = open
	if open {
		v.opened++
	}
	return nil
}

func (v *fakeValves) Close(i int) error { return v.Open(i, false) }

type fakePump struct {
	driving bool
	starts  int
}

func (p *fakePump) Start() error { p.driving = true; p.starts++; return nil }
func (p *fakePump) Stop() error  { p.driving = false; return nil }

// scripted returns readings from a list, erroring when it runs out
type scripted struct {
	readings []float64
	reads    int
	tares    int
}

var errScriptExhausted = errors.New("script exhausted")

func (s *scripted) Tare() error { s.tares++; return nil }

func (s *scripted) ReadWeight() (float64, error) {
	if s.reads >= len(s.readings) {
		return 0, errScriptExhausted
	}
	s.reads++
	return s.readings[s.reads-1], nil
}

// timed returns f(time since start) on the given clock
type timed struct {
	clk   *util.ManualClock
	start time.Time
	f     func(time.Duration) float64
}

func (s *timed) Tare() error { return nil }

func (s *timed) ReadWeight() (float64, error) {
	return s.f(s.clk.Now().Sub(s.start)), nil
}

type rig struct {
	arm    *fakeArm
	valves *fakeValves
	pump   *fakePump
	clk    *util.ManualClock
	ctl    *Controller
}

func newRig(scale Scale) *rig {
	r := &rig{
		arm:    &fakeArm{out: true},
		valves: &fakeValves{n: 12, open: map[int]bool{}},
		pump:   &fakePump{},
		clk:    util.NewManualClock(time.Unix(0, 0)),
	}
	r.ctl = New(r.arm, r.valves, scale, r.pump)
	r.ctl.Clock = r.clk
	return r
}

func (r *rig) assertShutdown(t *testing.T, valve int) {
	t.Helper()
	if r.pump.driving {
		t.Error("expected the pump stopped")
	}
	if r.valves.open[valve] {
		t.Errorf("expected valve %d closed", valve)
	}
}

func TestDebouncedCompletion(t *testing.T) {
	s := &scripted{readings: []float64{0, 5, 12, 8, 15, 16}}
	r := newRig(s)
	res, err := r.ctl.Dose(Request{Valve: 1, Amount: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Completed {
		t.Errorf("expected Completed got %v", res.Outcome)
	}
	if s.reads != 6 {
		t.Errorf("expected the dose to end on the fifth loop reading, read %d times", s.reads)
	}
	if s.tares != 1 {
		t.Errorf("expected one tare, got %d", s.tares)
	}
	r.assertShutdown(t, 1)
}

func TestCompensationAppliedOnce(t *testing.T) {
	// with a second compensation the target would be 65 and 70, 71 would end it
	s := &scripted{readings: []float64{-15, -20, 70, 71, 86, 87}}
	r := newRig(s)
	res, err := r.ctl.Dose(Request{Valve: 0, Amount: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Completed {
		t.Errorf("expected Completed got %v", res.Outcome)
	}
	if res.Target != 85 || !res.Compensated {
		t.Errorf("expected a compensated target of 85, got %v", res.Target)
	}
	if s.reads != 6 {
		t.Errorf("expected 6 reads got %d", s.reads)
	}
}

func TestCompensationInLoop(t *testing.T) {
	s := &scripted{readings: []float64{0, -12, -30, 89, 90}}
	r := newRig(s)
	res, err := r.ctl.Dose(Request{Valve: 0, Amount: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != 88 {
		t.Errorf("expected target 88 got %v", res.Target)
	}
	if res.Outcome != Completed {
		t.Errorf("expected Completed got %v", res.Outcome)
	}
}

func TestSteadyPourNeverTimesOut(t *testing.T) {
	clk := util.NewManualClock(time.Unix(0, 0))
	// 4 units every 50 ms
	s := &timed{clk: clk, start: clk.Now(), f: func(d time.Duration) float64 {
		return float64(d.Milliseconds()/50) * 4
	}}
	r := newRig(s)
	r.ctl.Clock = clk
	res, err := r.ctl.Dose(Request{Valve: 2, Amount: 450, Timeout: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Completed {
		t.Errorf("expected Completed got %v", res.Outcome)
	}
	if res.Elapsed < 5*time.Second {
		t.Errorf("expected more than 5s of pouring, got %v", res.Elapsed)
	}
	r.assertShutdown(t, 2)
}

func TestStallTimesOut(t *testing.T) {
	clk := util.NewManualClock(time.Unix(0, 0))
	// 4 units per poll for a second, then nothing
	s := &timed{clk: clk, start: clk.Now(), f: func(d time.Duration) float64 {
		ms := d.Milliseconds()
		if ms > 1000 {
			ms = 1000
		}
		return float64(ms/100) * 4
	}}
	r := newRig(s)
	r.ctl.Clock = clk
	var reports []float64
	res, err := r.ctl.Dose(Request{Valve: 3, Amount: 100, Timeout: time.Second},
		func(_ string, p float64) { reports = append(reports, p) })
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != TimedOut {
		t.Fatalf("expected TimedOut got %v", res.Outcome)
	}
	// last progress at 1.0s; timeout must land within one poll after 1s later
	stall := res.Elapsed - time.Second
	if stall <= time.Second || stall > time.Second+pollInterval {
		t.Errorf("expected the timeout 1s to 1.1s after the last progress, got %v", stall)
	}
	r.assertShutdown(t, 3)
	if len(reports) == 0 || reports[len(reports)-1] >= 100 {
		t.Errorf("expected partial progress reports only, got %v", reports)
	}
}

func TestInvalidIndexActuatesNothing(t *testing.T) {
	for _, idx := range []int{-1, 11, 12, 40} {
		s := &scripted{}
		r := newRig(s)
		res, err := r.ctl.Dose(Request{Valve: idx, Amount: 10}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != InvalidIndex {
			t.Errorf("valve %d: expected InvalidIndex got %v", idx, res.Outcome)
		}
		if r.pump.starts != 0 || r.valves.opened != 0 || s.tares != 0 {
			t.Errorf("valve %d: expected no hardware activity", idx)
		}
	}
}

func TestArmNotReady(t *testing.T) {
	s := &scripted{}
	r := newRig(s)
	r.arm.out = false
	res, err := r.ctl.Dose(Request{Valve: 1, Amount: 10}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != ArmNotReady {
		t.Errorf("expected ArmNotReady got %v", res.Outcome)
	}
	if r.pump.starts != 0 {
		t.Error("expected the pump untouched")
	}
}

func TestFaultShutsDown(t *testing.T) {
	s := &scripted{readings: []float64{0, 2, 4}}
	r := newRig(s)
	_, err := r.ctl.Dose(Request{Valve: 4, Amount: 100}, nil)
	if !errors.Is(err, errScriptExhausted) {
		t.Fatalf("expected the sensor fault to propagate, got %v", err)
	}
	if r.pump.starts != 1 {
		t.Errorf("expected the pump to have been started once, got %d", r.pump.starts)
	}
	r.assertShutdown(t, 4)
}

func TestProgressEndsAtRangeEnd(t *testing.T) {
	s := &scripted{readings: []float64{0, 5, 11, 12}}
	r := newRig(s)
	var reports []float64
	var labels []string
	_, err := r.ctl.Dose(Request{Valve: 1, Amount: 10, Label: "gin", Range: progress.Range{Start: 20, End: 40}},
		func(l string, p float64) { labels = append(labels, l); reports = append(reports, p) })
	if err != nil {
		t.Fatal(err)
	}
	if reports[0] != 30 {
		t.Errorf("expected the first report half way through 20-40, got %v", reports[0])
	}
	if last := reports[len(reports)-1]; last != 40 {
		t.Errorf("expected the final report at the range end, got %v", last)
	}
	if labels[0] != "gin" {
		t.Errorf("expected label gin got %s", labels[0])
	}
}

type countingObserver struct {
	NopObserver
	readings, compensations, finished int
	last                              Result
}

func (c *countingObserver) Reading(Request, float64)              { c.readings++ }
func (c *countingObserver) Compensated(Request, float64, float64) { c.compensations++ }
func (c *countingObserver) DoseFinished(_ Request, res Result, _ error) {
	c.finished++
	c.last = res
}

func TestObserverEvents(t *testing.T) {
	s := &scripted{readings: []float64{-15, 50, 90, 91}}
	r := newRig(s)
	obs := &countingObserver{}
	r.ctl.Observer = obs
	r.ctl.Dose(Request{Valve: 1, Amount: 100}, nil)
	if obs.readings != 3 || obs.compensations != 1 || obs.finished != 1 {
		t.Errorf("unexpected event counts %+v", obs)
	}
	if obs.last.Outcome != Completed {
		t.Errorf("expected Completed got %v", obs.last.Outcome)
	}
}
