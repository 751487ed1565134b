package metrics

import (
	"errors"

	"github.com/kilianp07/depannage/core/model"
)

// MultiSink fans records out to several sinks. Every sink is called even
// when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordDispatchPass(ev DispatchPassEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordDispatchPass(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordAcceptance(ev AcceptanceEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AcceptanceRecorder); ok {
			errs = append(errs, r.RecordAcceptance(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(TransitionRecorder); ok {
			errs = append(errs, r.RecordTransition(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordAvailability(ev AvailabilityEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AvailabilityRecorder); ok {
			errs = append(errs, r.RecordAvailability(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordFleetStatus(counts map[model.Disponibilite]int) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(FleetStatusRecorder); ok {
			errs = append(errs, r.RecordFleetStatus(counts))
		}
	}
	return errors.Join(errs...)
}
