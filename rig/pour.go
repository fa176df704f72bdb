package rig

import (
	"fmt"

	"github.com/hector9000/hector/dose"
	"github.com/hector9000/hector/finger"
	"github.com/hector9000/hector/progress"
)

// pourPings is the number of bell rings when a drink is ready
const pourPings = 3

// Ingredient is one dose of a drink
type Ingredient struct {
	Valve  int
	Amount float64
}

// PourResult is the outcome of a Pour
type PourResult struct {
	// Doses holds the result of each dose that was attempted
	Doses []dose.Result

	// Failed is the index of the ingredient that did not complete, or -1
	Failed int
}

// Completed is true if every ingredient was dispensed
func (p PourResult) Completed() bool {
	return p.Failed < 0
}

// Pour makes a drink: the arm moves out, each ingredient is dosed in order
// with its share of the progress bar, then the arm returns and the bell
// rings.
//
// If an ingredient does not complete the sequence stops there with the arm
// left OUT, so the glass can be inspected, and its index is in Failed.
func (r *Rig) Pour(ings []Ingredient, fn progress.Func) (PourResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn = progress.Or(fn)
	res := PourResult{Failed: -1}
	if len(ings) == 0 {
		return res, nil
	}
	if err := r.Finger.Set(finger.Retracted); err != nil {
		return res, err
	}
	if _, err := r.Arm.MoveOut(fn); err != nil {
		return res, err
	}
	ranges := progress.Full.Split(len(ings))
	for i, ing := range ings {
		d, err := r.dose(dose.Request{
			Valve:  ing.Valve,
			Amount: ing.Amount,
			Range:  ranges[i],
			Label:  fmt.Sprintf("valve %d", ing.Valve),
		}, fn)
		res.Doses = append(res.Doses, d)
		if err != nil {
			res.Failed = i
			return res, err
		}
		if d.Outcome != dose.Completed {
			res.Failed = i
			r.log.Printf("pour stopped at ingredient %d: %v", i, d.Outcome)
			return res, nil
		}
	}
	if _, err := r.Arm.MoveIn(fn); err != nil {
		return res, err
	}
	if err := r.Finger.Ping(pourPings, false); err != nil {
		return res, err
	}
	r.log.Printf("poured %d ingredients", len(ings))
	return res, nil
}
