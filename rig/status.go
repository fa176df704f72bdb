package rig

import (
	"time"

	"github.com/hector9000/hector/dose"
)

// DoseStatus summarizes a finished dose
type DoseStatus struct {
	Valve       int          `json:"valve"`
	Amount      float64      `json:"amount"`
	Outcome     dose.Outcome `json:"outcome"`
	Target      float64      `json:"target"`
	Weight      float64      `json:"weight"`
	Compensated bool         `json:"compensated"`
	Elapsed     float64      `json:"elapsedSeconds"`
	Error       string       `json:"error,omitempty"`
}

// Status is a snapshot of the rig
type Status struct {
	Time     time.Time   `json:"time"`
	Arm      string      `json:"arm"`
	Pump     string      `json:"pump"`
	Light    bool        `json:"light"`
	Weight   float64     `json:"weight"`
	Valves   int         `json:"valves"`
	LastDose *DoseStatus `json:"lastDose,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Status reads the arm sensor and the light and reports them along with the
// pump state and the last dose.  The scale is not sampled; Weight is the last
// reading taken by a dose.  Status does not take the rig lock and may be
// called during a dose.
func (r *Rig) Status() Status {
	s := Status{
		Time:   r.clock.Now(),
		Pump:   r.Pump.State().String(),
		Weight: r.last.Weight(),
		Valves: r.Valves.Len(),
	}
	st, err := r.Arm.State()
	s.Arm = st.String()
	if err != nil {
		s.Error = err.Error()
	}
	if on, err := r.Light.IsOn(); err == nil {
		s.Light = on
	} else if s.Error == "" {
		s.Error = err.Error()
	}
	if rec, ok := r.last.Get(); ok {
		ds := &DoseStatus{
			Valve:       rec.Request.Valve,
			Amount:      rec.Request.Amount,
			Outcome:     rec.Result.Outcome,
			Target:      rec.Result.Target,
			Weight:      rec.Result.Weight,
			Compensated: rec.Result.Compensated,
			Elapsed:     rec.Result.Elapsed.Seconds(),
		}
		if rec.Err != nil {
			ds.Error = rec.Err.Error()
		}
		s.LastDose = ds
	}
	return s
}
