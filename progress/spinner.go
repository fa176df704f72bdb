package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/theckman/yacspin"
)

// Spinner renders progress on a terminal
type Spinner struct {
	s *yacspin.Spinner
}

// NewSpinner creates a spinner writing to w.  Call Start before use.
func NewSpinner(w io.Writer) (*Spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
		Writer:            w,
	})
	if err != nil {
		return nil, err
	}
	return &Spinner{s: s}, nil
}

// Start begins animating
func (s *Spinner) Start() error {
	return s.s.Start()
}

// Func returns a progress Func that updates the spinner text
func (s *Spinner) Func() Func {
	return func(label string, percent float64) {
		s.s.Suffix(" " + label)
		s.s.Message(fmt.Sprintf("%3.0f%%", percent))
	}
}

// Stop halts the spinner, marking the operation done or failed
func (s *Spinner) Stop(ok bool, msg string) error {
	if ok {
		s.s.StopMessage(msg)
		return s.s.Stop()
	}
	s.s.StopFailMessage(msg)
	return s.s.StopFail()
}
