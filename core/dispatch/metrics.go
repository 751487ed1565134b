package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchPasses   *prometheus.CounterVec
	radiusExpansions prometheus.Counter
	candidatesFound  prometheus.Histogram
	emptyResults     prometheus.Counter
	timeoutCancels   prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Histogram, prometheus.Counter, prometheus.Counter) {
	passes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_passes_total",
			Help: "Candidate searches run, by trigger",
		},
		[]string{"trigger"},
	)
	exp := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_radius_expansions_total",
			Help: "Times a search widened its radius",
		},
	)
	cands := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_candidates",
			Help:    "Number of candidates per search",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
	empty := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_empty_results_total",
			Help: "Searches that found nobody at the maximum radius",
		},
	)
	timeouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_timeout_cancellations_total",
			Help: "Demandes cancelled by the system after exhausting re-dispatches",
		},
	)
	return passes, exp, cands, empty, timeouts
}

func init() {
	dispatchPasses, radiusExpansions, candidatesFound, emptyResults, timeoutCancels = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchPasses, radiusExpansions, candidatesFound, emptyResults, timeoutCancels)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchPasses, radiusExpansions, candidatesFound, emptyResults, timeoutCancels = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
