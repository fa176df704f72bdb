// Package scale reads the load cell under the glass.
package scale

import (
	"github.com/hector9000/hector/hal"
)

// DefaultSamples is the number of raw samples averaged per reading
const DefaultSamples = 5

// Scale is a calibrated, tared load cell.  Readings are signed; a negative
// reading means the zero has drifted or the scale was tared under load.
type Scale struct {
	cell hal.LoadCell

	// Samples is the number of raw samples averaged per reading
	Samples int

	// Reference is the load cell calibration, applied by Init
	Reference float64
}

// New returns a scale on cell with the given calibration
func New(cell hal.LoadCell, reference float64) *Scale {
	return &Scale{cell: cell, Samples: DefaultSamples, Reference: reference}
}

// Init calibrates the load cell, resets it, and tares it
func (s *Scale) Init() error {
	if err := s.cell.SetReferenceUnit(s.Reference); err != nil {
		return err
	}
	if err := s.cell.Reset(); err != nil {
		return err
	}
	return s.cell.Tare()
}

// ReadWeight samples the load cell.  Every call goes to the hardware.
func (s *Scale) ReadWeight() (float64, error) {
	n := s.Samples
	if n < 1 {
		n = DefaultSamples
	}
	return s.cell.SampleRawWeight(n)
}

// Tare zeroes the scale at the current load
func (s *Scale) Tare() error {
	return s.cell.Tare()
}
