package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meal_optimizer"

// Collectors holds the Prometheus instruments for solves and suggestions.
type Collectors struct {
	solvesTotal      *prometheus.CounterVec
	solveDuration    *prometheus.HistogramVec
	solveTimeouts    prometheus.Counter
	suggestTotal     prometheus.Counter
	suggestDuration  prometheus.Histogram
	jobsInFlight     prometheus.Gauge
	problemRecipes   prometheus.Histogram
	requestsRejected *prometheus.CounterVec
}

// NewCollectors registers the instruments on reg. A nil reg uses the
// default registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collectors{
		solvesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "solver",
				Name:      "solves_total",
				Help:      "Total number of optimization runs by result status",
			},
			[]string{"status"},
		),
		solveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "solver",
				Name:      "solve_duration_seconds",
				Help:      "Wall time of optimization runs",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		solveTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "timeouts_total",
			Help:      "Optimization runs stopped by their time limit",
		}),
		suggestTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "suggestions",
			Name:      "requests_total",
			Help:      "Total number of quick suggestion requests",
		}),
		suggestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "suggestions",
			Name:      "duration_seconds",
			Help:      "Wall time of quick suggestion scoring",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		jobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Background jobs queued or running",
		}),
		problemRecipes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "problem_recipes",
			Help:      "Number of candidate recipes per optimization run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		requestsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rejected_total",
				Help:      "Requests rejected before reaching the engine",
			},
			[]string{"reason"},
		),
	}
}

// ObserveSolve records one optimization run.
func (c *Collectors) ObserveSolve(status string, d time.Duration, recipes int, timedOut bool) {
	c.solvesTotal.WithLabelValues(status).Inc()
	c.solveDuration.WithLabelValues(status).Observe(d.Seconds())
	c.problemRecipes.Observe(float64(recipes))
	if timedOut {
		c.solveTimeouts.Inc()
	}
}

// ObserveSuggest records one suggestion request.
func (c *Collectors) ObserveSuggest(d time.Duration) {
	c.suggestTotal.Inc()
	c.suggestDuration.Observe(d.Seconds())
}

// SetJobsInFlight reports the current job queue depth.
func (c *Collectors) SetJobsInFlight(n int) {
	c.jobsInFlight.Set(float64(n))
}

// Reject counts a request refused for reason, e.g. "rate_limited" or "invalid".
func (c *Collectors) Reject(reason string) {
	c.requestsRejected.WithLabelValues(reason).Inc()
}
