package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hector9000/hector/dose"
)

func TestCollectorCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	req := dose.Request{Valve: 1, Amount: 100}
	c.DoseStarted(req)
	if v := testutil.ToFloat64(c.active); v != 1 {
		t.Errorf("expected active 1 got %v", v)
	}
	c.Reading(req, 42)
	c.Compensated(req, -12, 88)
	c.DoseFinished(req, dose.Result{Outcome: dose.Completed, Elapsed: 3 * time.Second}, nil)
	c.DoseFinished(req, dose.Result{Outcome: dose.TimedOut}, nil)
	c.DoseFinished(req, dose.Result{}, errors.New("bus"))

	if v := testutil.ToFloat64(c.doses.WithLabelValues("completed")); v != 1 {
		t.Errorf("expected 1 completed got %v", v)
	}
	if v := testutil.ToFloat64(c.doses.WithLabelValues("error")); v != 1 {
		t.Errorf("expected 1 error got %v", v)
	}
	if v := testutil.ToFloat64(c.weight); v != 42 {
		t.Errorf("expected weight 42 got %v", v)
	}
	if v := testutil.ToFloat64(c.compensations); v != 1 {
		t.Errorf("expected 1 compensation got %v", v)
	}
	if v := testutil.ToFloat64(c.active); v != 0 {
		t.Errorf("expected active 0 got %v", v)
	}
	if n := testutil.CollectAndCount(c.duration); n != 1 {
		t.Errorf("expected one histogram series got %d", n)
	}
}
