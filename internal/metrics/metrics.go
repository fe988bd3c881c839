// Package metrics defines the prometheus collectors of the optimization
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's prometheus collectors.
type Metrics struct {
	// StepsTotal counts optimization steps, labeled by algorithm.
	StepsTotal *prometheus.CounterVec
	// RunsTotal counts optimization runs by terminal status.
	RunsTotal *prometheus.CounterVec
	// BestLoss observes the final best loss of completed runs.
	BestLoss prometheus.Histogram
	// RunDuration observes wall-clock run durations in seconds.
	RunDuration prometheus.Histogram
}

// New registers the collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perturb",
			Name:      "optimization_steps_total",
			Help:      "Number of optimization steps performed.",
		}, []string{"optimizer"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perturb",
			Name:      "optimization_runs_total",
			Help:      "Number of optimization runs by terminal status.",
		}, []string{"status"}),
		BestLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "perturb",
			Name:      "optimization_best_loss",
			Help:      "Final best loss of completed runs.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 10),
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "perturb",
			Name:      "optimization_run_duration_seconds",
			Help:      "Wall-clock duration of optimization runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
