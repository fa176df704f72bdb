package rig

import (
	"errors"
	"testing"
	"time"

	"github.com/hector9000/hector/arm"
	"github.com/hector9000/hector/config"
	"github.com/hector9000/hector/dose"
	"github.com/hector9000/hector/finger"
	"github.com/hector9000/hector/hal"
	"github.com/hector9000/hector/util"
)

// newTestRig builds a rig on a simulated board that pours 55 units per
// second, so a 0 to 110 ramp takes two seconds
func newTestRig(t *testing.T) (*Rig, *hal.MockBoard, *util.ManualClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Arm.NumSteps = 100
	clk := util.NewManualClock(time.Unix(0, 0))
	board := hal.NewMockBoard(hal.MockConfig{
		EnablePin:     cfg.Arm.Pins.Enable,
		StepPin:       cfg.Arm.Pins.Step,
		DirPin:        cfg.Arm.Pins.Dir,
		SensePin:      cfg.Arm.Pins.Sense,
		OutSteps:      90,
		PumpPin:       cfg.Pump.Pin,
		ValveOpen:     ValveOpenTicks(cfg),
		FlowRate:      55,
		CountsPerUnit: cfg.HX711.Reference,
		Clock:         clk,
	})
	r := New(cfg, board, Options{Clock: clk})
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}
	return r, board, clk
}

func assertSafe(t *testing.T, r *Rig, b *hal.MockBoard, valve int) {
	t.Helper()
	if b.Mode(r.cfg.Pump.Pin) != hal.In {
		t.Error("expected the pump line floating")
	}
	spec := r.cfg.PCA9685.Valves[valve]
	if _, off := b.PWMValue(spec.Channel); off != spec.Closed {
		t.Errorf("expected valve %d closed (%d), got %d", valve, spec.Closed, off)
	}
}

func TestInitIsSafe(t *testing.T) {
	r, b, _ := newTestRig(t)
	for i := range r.cfg.PCA9685.Valves {
		assertSafe(t, r, b, i)
	}
	if !b.Level(r.cfg.Arm.Pins.Enable) {
		t.Error("expected the arm driver disabled")
	}
	if b.PWMFreq() != r.cfg.PCA9685.Freq {
		t.Errorf("expected PWM frequency %v got %v", r.cfg.PCA9685.Freq, b.PWMFreq())
	}
	if _, off := b.PWMValue(r.cfg.PCA9685.FingerChannel); off != r.cfg.PCA9685.FingerPositions[finger.Retracted] {
		t.Error("expected the finger retracted")
	}
}

func TestDoseEndToEnd(t *testing.T) {
	r, b, _ := newTestRig(t)
	if st, err := r.ArmOut(nil); err != nil || st != arm.Out {
		t.Fatalf("arm out: %v %v", st, err)
	}
	b.SetWeight(250) // the glass
	res, err := r.Dose(dose.Request{Valve: 1, Amount: 100, Timeout: 30 * time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != dose.Completed {
		t.Fatalf("expected Completed got %v", res.Outcome)
	}
	if res.Elapsed != 2*time.Second {
		t.Errorf("expected the dose to finish on the 110 reading at 2s, took %v", res.Elapsed)
	}
	if res.Weight <= 100 {
		t.Errorf("expected a final weight above 100, got %v", res.Weight)
	}
	assertSafe(t, r, b, 1)
}

func TestDoseOnlyPoursThroughTheOpenValve(t *testing.T) {
	r, b, clk := newTestRig(t)
	r.ArmOut(nil)
	r.Pump.Start()
	clk.Sleep(5 * time.Second)
	r.Pump.Stop()
	w, err := r.Scale.ReadWeight()
	if err != nil {
		t.Fatal(err)
	}
	if w != 0 {
		t.Errorf("expected no pour with every valve closed, got %v", w)
	}
	res, err := r.Dose(dose.Request{Valve: 4, Amount: 50}, nil)
	if err != nil || res.Outcome != dose.Completed {
		t.Fatalf("expected a completed dose, got %v %v", res.Outcome, err)
	}
	assertSafe(t, r, b, 4)
}

func TestDoseNeedsArmOut(t *testing.T) {
	r, b, _ := newTestRig(t)
	res, err := r.Dose(dose.Request{Valve: 1, Amount: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != dose.ArmNotReady {
		t.Errorf("expected ArmNotReady got %v", res.Outcome)
	}
	assertSafe(t, r, b, 1)
}

func TestDoseFaultLeavesRigSafe(t *testing.T) {
	r, b, _ := newTestRig(t)
	r.ArmOut(nil)
	bus := errors.New("i2c timeout")
	b.SetSampleError(bus)
	_, err := r.Dose(dose.Request{Valve: 2, Amount: 100}, nil)
	if !errors.Is(err, bus) {
		t.Fatalf("expected the bus error, got %v", err)
	}
	assertSafe(t, r, b, 2)
	rec, ok := r.LastDose()
	if !ok || rec.Err == nil {
		t.Error("expected the failed dose to be recorded")
	}
}

func TestPour(t *testing.T) {
	r, b, _ := newTestRig(t)
	var last float64
	res, err := r.Pour([]Ingredient{{Valve: 1, Amount: 40}, {Valve: 3, Amount: 20}},
		func(label string, pct float64) {
			if label != arm.LabelOut && label != arm.LabelIn {
				last = pct
			}
		})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed() || len(res.Doses) != 2 {
		t.Fatalf("expected two completed doses, got %+v", res)
	}
	if last != 100 {
		t.Errorf("expected the last dose report at 100, got %v", last)
	}
	if b.ArmPosition() != 0 {
		t.Errorf("expected the arm back in, at %d", b.ArmPosition())
	}
	if _, off := b.PWMValue(r.cfg.PCA9685.FingerChannel); off != r.cfg.PCA9685.FingerPositions[finger.Retracted] {
		t.Error("expected the finger to rest retracted after the bell")
	}
	assertSafe(t, r, b, 1)
	assertSafe(t, r, b, 3)
}

func TestPourStopsAtBadIngredient(t *testing.T) {
	r, _, _ := newTestRig(t)
	res, err := r.Pour([]Ingredient{{Valve: 0, Amount: 10}, {Valve: 11, Amount: 10}, {Valve: 2, Amount: 10}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Doses[1].Outcome != dose.InvalidIndex {
		t.Errorf("expected the reserved valve 11 to stop the pour, got %+v", res)
	}
	if len(res.Doses) != 2 {
		t.Errorf("expected the third ingredient skipped, got %d doses", len(res.Doses))
	}
	if st, _ := r.Arm.State(); st != arm.Out {
		t.Errorf("expected the arm left out, got %v", st)
	}
}

func TestStatus(t *testing.T) {
	r, _, clk := newTestRig(t)
	r.ArmOut(nil)
	r.Dose(dose.Request{Valve: 0, Amount: 30}, nil)
	s := r.Status()
	if !s.Time.Equal(clk.Now()) {
		t.Errorf("expected the status stamped by the rig clock at %v, got %v", clk.Now(), s.Time)
	}
	if s.Arm != "out" || s.Pump != "floating" {
		t.Errorf("unexpected status %+v", s)
	}
	if s.LastDose == nil || s.LastDose.Outcome != dose.Completed {
		t.Errorf("expected the last dose completed, got %+v", s.LastDose)
	}
	if s.Valves != 12 {
		t.Errorf("expected 12 valves got %d", s.Valves)
	}
}

func TestClose(t *testing.T) {
	r, b, _ := newTestRig(t)
	r.Pump.Start()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !b.Closed() || b.Mode(r.cfg.Pump.Pin) != hal.In {
		t.Error("expected the board closed with the pump floating")
	}
}

func TestOpenMock(t *testing.T) {
	cfg := config.Default()
	cfg.Board.Mock = true
	r := Open(cfg, Options{Clock: util.NewManualClock(time.Unix(0, 0))})
	if _, ok := r.Board.(*hal.MockBoard); !ok {
		t.Fatalf("expected a mock board, got %T", r.Board)
	}
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}
}
