// Package util contains misc internal utilities.
package util

import (
	"strings"
	"sync"
	"time"
)

// Clock is the source of time used by anything that paces hardware.
// Components take a Clock so that tests can substitute a ManualClock.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// ManualClock is a Clock which only advances when slept.  Sleep returns
// immediately after moving the clock forward.  It is safe for concurrent use.
type ManualClock struct {
	mu    sync.Mutex
	t     time.Time
	slept time.Duration
}

// NewManualClock returns a ManualClock starting at t
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

// Now returns the current simulated time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Sleep advances the simulated time by d
func (c *ManualClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.slept += d
}

// Slept returns the total duration passed to Sleep
func (c *ManualClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// SecsToDuration converts floating point seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// Clamp limits a value to lower and upper bounds
func Clamp(input, lower, upper float64) float64 {
	if input < lower {
		return lower
	}
	if input > upper {
		return upper
	}
	return input
}

// MergeErrors combines several errors into one.  nil errors are skipped.
// If all are nil, the return is nil
func MergeErrors(errs []error) error {
	var strs []string
	for _, e := range errs {
		if e != nil {
			strs = append(strs, e.Error())
		}
	}
	if len(strs) == 0 {
		return nil
	}
	return mergedError(strings.Join(strs, "; "))
}

type mergedError string

func (e mergedError) Error() string { return string(e) }
