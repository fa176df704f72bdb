// Package metrics exports dose statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hector9000/hector/dose"
)

// Collector is a dose.Observer that records every dose
type Collector struct {
	doses         *prometheus.CounterVec
	duration      prometheus.Histogram
	weight        prometheus.Gauge
	compensations prometheus.Counter
	active        prometheus.Gauge
}

// New registers the collectors with reg.  Use prometheus.DefaultRegisterer
// to expose them on promhttp.Handler().
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		doses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hector",
			Name:      "doses_total",
			Help:      "Doses by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hector",
			Name:      "dose_duration_seconds",
			Help:      "Wall time of doses that reached the hardware.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		weight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hector",
			Name:      "scale_weight",
			Help:      "Most recent scale reading during a dose.",
		}),
		compensations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hector",
			Name:      "target_compensations_total",
			Help:      "Doses whose target was lowered for a negative scale offset.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hector",
			Name:      "dose_active",
			Help:      "1 while a dose is pouring.",
		}),
	}
}

func (c *Collector) DoseStarted(dose.Request) {
	c.active.Set(1)
}

func (c *Collector) Reading(_ dose.Request, weight float64) {
	c.weight.Set(weight)
}

func (c *Collector) Compensated(dose.Request, float64, float64) {
	c.compensations.Inc()
}

func (c *Collector) DoseFinished(_ dose.Request, res dose.Result, err error) {
	c.active.Set(0)
	if err != nil {
		c.doses.WithLabelValues("error").Inc()
		return
	}
	c.doses.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == dose.Completed || res.Outcome == dose.TimedOut {
		c.duration.Observe(res.Elapsed.Seconds())
	}
}
