// Package metrics provides the MetricsSink backends and the collector that
// feeds them from the event bus.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
)

// PromSink records dispatch activity in Prometheus metrics.
type PromSink struct {
	passRadius   *prometheus.HistogramVec
	passDuration prometheus.Histogram
	acceptances  *prometheus.CounterVec
	statuses     *prometheus.CounterVec
	availability *prometheus.CounterVec
	fleet        *prometheus.GaugeVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		passRadius: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depannage_dispatch_radius_km",
			Help:    "Final search radius of dispatch passes",
			Buckets: []float64{5, 10, 20, 30, 40, 50, 75, 100},
		}, []string{"trigger", "found"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "depannage_dispatch_pass_duration_seconds",
			Help:    "Duration of a dispatch pass",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		acceptances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depannage_acceptances_total",
			Help: "Accept attempts by outcome",
		}, []string{"won", "reason"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depannage_demande_status_changes_total",
			Help: "Demandes entering each status",
		}, []string{"to"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depannage_availability_changes_total",
			Help: "Technician disponibilite changes",
		}, []string{"to"}),
		fleet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depannage_technicians",
			Help: "Technicians per disponibilite",
		}, []string{"disponibilite"}),
	}
	var err error
	if s.passRadius, err = register(reg, s.passRadius); err != nil {
		return nil, err
	}
	if s.passDuration, err = register(reg, s.passDuration); err != nil {
		return nil, err
	}
	if s.acceptances, err = register(reg, s.acceptances); err != nil {
		return nil, err
	}
	if s.statuses, err = register(reg, s.statuses); err != nil {
		return nil, err
	}
	if s.availability, err = register(reg, s.availability); err != nil {
		return nil, err
	}
	if s.fleet, err = register(reg, s.fleet); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordDispatchPass observes the radius and duration of a pass.
func (s *PromSink) RecordDispatchPass(ev coremetrics.DispatchPassEvent) error {
	s.passRadius.WithLabelValues(ev.Trigger, strconv.FormatBool(ev.Candidates > 0)).Observe(ev.RadiusKm)
	s.passDuration.Observe(ev.Duration.Seconds())
	return nil
}

// RecordAcceptance counts an accept attempt.
func (s *PromSink) RecordAcceptance(ev coremetrics.AcceptanceEvent) error {
	s.acceptances.WithLabelValues(strconv.FormatBool(ev.Won), ev.Reason).Inc()
	return nil
}

// RecordTransition counts demandes entering a status.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.statuses.WithLabelValues(string(ev.To)).Inc()
	return nil
}

// RecordAvailability counts a disponibilite change.
func (s *PromSink) RecordAvailability(ev coremetrics.AvailabilityEvent) error {
	s.availability.WithLabelValues(string(ev.To)).Inc()
	return nil
}

// RecordFleetStatus sets the per-status technician gauges.
func (s *PromSink) RecordFleetStatus(counts map[model.Disponibilite]int) error {
	for status, n := range counts {
		s.fleet.WithLabelValues(string(status)).Set(float64(n))
	}
	return nil
}
