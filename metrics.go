package steam

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by a Solver. A nil *Metrics
// records nothing.
type Metrics struct {
	Iterations    prometheus.Counter
	AcceptedSteps prometheus.Counter
	RejectedSteps prometheus.Counter
	SolveFailures prometheus.Counter
	Cost          prometheus.Gauge
	Linearization prometheus.Histogram
}

// NewMetrics creates the solver collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "steam_solver_iterations_total",
			Help: "Total solver iterations",
		}),
		AcceptedSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "steam_solver_accepted_steps_total",
			Help: "Total state updates accepted by the solver",
		}),
		RejectedSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "steam_solver_rejected_steps_total",
			Help: "Total state updates rejected by the solver",
		}),
		SolveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "steam_solver_linear_solve_failures_total",
			Help: "Total failed solves of the normal equations",
		}),
		Cost: f.NewGauge(prometheus.GaugeOpts{
			Name: "steam_solver_cost",
			Help: "Cost after the last solver iteration",
		}),
		Linearization: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "steam_solver_linearization_duration_seconds",
			Help:    "Duration of one Gauss-Newton linearization in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}),
	}
}

func (m *Metrics) observeLinearization(d time.Duration) {
	if m == nil {
		return
	}
	m.Linearization.Observe(d.Seconds())
}

func (m *Metrics) observeStep(accepted bool, cost float64) {
	if m == nil {
		return
	}
	m.Iterations.Inc()
	if accepted {
		m.AcceptedSteps.Inc()
		m.Cost.Set(cost)
	} else {
		m.RejectedSteps.Inc()
	}
}

func (m *Metrics) observeSolveFailure() {
	if m == nil {
		return
	}
	m.SolveFailures.Inc()
}
