// Package progress defines the callback used by long running rig operations
// to report how far along they are, and a few ways of rendering it.
//
// A Func is called synchronously from the stepping and polling loops, so it
// must return quickly.  Wrap slow sinks with Throttle.
package progress

import (
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hector9000/hector/util"
)

// Func receives a label naming the operation ("arm_out", "dose", ...) and a
// percentage, nominally in [0, 100]
type Func func(label string, percent float64)

// Nop discards progress
func Nop(string, float64) {}

// Or returns fn, or Nop if fn is nil
func Or(fn Func) Func {
	if fn == nil {
		return Nop
	}
	return fn
}

// Range is a span of a larger progress bar, in percent
type Range struct {
	Start int `json:"start" yaml:"Start" koanf:"Start"`
	End   int `json:"end" yaml:"End" koanf:"End"`
}

// Full is the whole progress bar
var Full = Range{Start: 0, End: 100}

// At maps a fraction in [0, 1] into the range
func (r Range) At(frac float64) float64 {
	frac = util.Clamp(frac, 0, 1)
	return float64(r.Start) + frac*float64(r.End-r.Start)
}

// Split divides the range into n consecutive pieces of equal width.
// The last piece always ends at r.End.
func (r Range) Split(n int) []Range {
	if n < 1 {
		return nil
	}
	out := make([]Range, n)
	width := float64(r.End-r.Start) / float64(n)
	for i := range out {
		out[i] = Range{
			Start: r.Start + int(float64(i)*width),
			End:   r.Start + int(float64(i+1)*width),
		}
	}
	out[n-1].End = r.End
	return out
}

// Scale returns a Func that maps 0-100 percent reports into r before passing
// them to fn
func Scale(fn Func, r Range) Func {
	fn = Or(fn)
	return func(label string, percent float64) {
		fn(label, r.At(percent/100))
	}
}

// Throttle limits fn to hz calls per second per label.  Reports at or
// beyond either end of the bar always pass so a sink never misses the start
// or the finish of an operation.
func Throttle(fn Func, hz float64) Func {
	fn = Or(fn)
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)
	return func(label string, percent float64) {
		if percent <= 0 || percent >= 100 {
			fn(label, percent)
			return
		}
		mu.Lock()
		l, ok := limiters[label]
		if !ok {
			l = rate.NewLimiter(rate.Limit(hz), 1)
			limiters[label] = l
		}
		allow := l.Allow()
		mu.Unlock()
		if allow {
			fn(label, percent)
		}
	}
}

// Logger returns a Func which prints each report to l
func Logger(l *log.Logger) Func {
	return func(label string, percent float64) {
		l.Printf("=> %s: %.0f", label, percent)
	}
}
