package assignment

import "github.com/prometheus/client_golang/prometheus"

var (
	acceptAttempts *prometheus.CounterVec
	acceptLatency  prometheus.Histogram
	rollbacks      prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, prometheus.Counter) {
	att := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_accept_attempts_total",
			Help: "Accept attempts by outcome",
		},
		[]string{"result"},
	)
	lat := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assignment_accept_latency_seconds",
			Help:    "Time to resolve an accept attempt",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
	rb := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assignment_rollbacks_total",
			Help: "Winning acceptances undone after a failed side effect",
		},
	)
	return att, lat, rb
}

func init() {
	acceptAttempts, acceptLatency, rollbacks = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers arbiter metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(acceptAttempts, acceptLatency, rollbacks)
}

// ResetMetrics reinitializes the collectors for tests.
func ResetMetrics(reg prometheus.Registerer) {
	acceptAttempts, acceptLatency, rollbacks = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
