package dose

import (
	"log"
	"sync"
)

// Observer receives events from the controller.  Calls are made
// synchronously from the polling loop and must return quickly.
type Observer interface {
	// DoseStarted is called once the arm has been confirmed at OUT
	DoseStarted(req Request)

	// Reading is called for every reading in the polling loop
	Reading(req Request, weight float64)

	// Compensated is called when a negative offset lowers the target
	Compensated(req Request, offset, target float64)

	// DoseFinished is called at the end of every call to Dose
	DoseFinished(req Request, res Result, err error)
}

// NopObserver ignores all events
type NopObserver struct{}

func (NopObserver) DoseStarted(Request)                   {}
func (NopObserver) Reading(Request, float64)              {}
func (NopObserver) Compensated(Request, float64, float64) {}
func (NopObserver) DoseFinished(Request, Result, error)   {}

// LogObserver writes dose events to a logger
type LogObserver struct {
	*log.Logger

	// Readings enables a line per reading
	Readings bool
}

func (l LogObserver) DoseStarted(req Request) {
	l.Printf("dose valve %d, amount %.1f", req.Valve, req.Amount)
}

func (l LogObserver) Reading(req Request, weight float64) {
	if l.Readings {
		l.Printf("valve %d weight = %.1f", req.Valve, weight)
	}
}

func (l LogObserver) Compensated(req Request, offset, target float64) {
	l.Printf("valve %d: offset %.1f, target now %.1f", req.Valve, offset, target)
}

func (l LogObserver) DoseFinished(req Request, res Result, err error) {
	if err != nil {
		l.Printf("valve %d: dose failed after %v: %v", req.Valve, res.Elapsed, err)
		return
	}
	l.Printf("valve %d: %v, %.1f of %.1f in %v", req.Valve, res.Outcome, res.Weight, res.Target, res.Elapsed)
}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) DoseStarted(req Request) {
	for _, v := range o {
		v.DoseStarted(req)
	}
}

func (o Observers) Reading(req Request, weight float64) {
	for _, v := range o {
		v.Reading(req, weight)
	}
}

func (o Observers) Compensated(req Request, offset, target float64) {
	for _, v := range o {
		v.Compensated(req, offset, target)
	}
}

func (o Observers) DoseFinished(req Request, res Result, err error) {
	for _, v := range o {
		v.DoseFinished(req, res, err)
	}
}

// Record is a finished dose
type Record struct {
	Request Request
	Result  Result
	Err     error
}

// Last remembers the most recent result and weight, for status displays
type Last struct {
	mu     sync.Mutex
	rec    Record
	weight float64
	have   bool
}

func (l *Last) DoseStarted(Request) {}

func (l *Last) Reading(_ Request, weight float64) {
	l.mu.Lock()
	l.weight = weight
	l.mu.Unlock()
}

func (l *Last) Compensated(Request, float64, float64) {}

func (l *Last) DoseFinished(req Request, res Result, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec = Record{Request: req, Result: res, Err: err}
	l.have = true
	l.weight = res.Weight
}

// Get returns the last finished dose, and false if there has been none
func (l *Last) Get() (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec, l.have
}

// Weight returns the most recent reading
func (l *Last) Weight() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weight
}
