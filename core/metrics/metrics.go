package metrics

import (
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// Dispatch pass triggers.
const (
	TriggerInitial    = "initial"
	TriggerRedispatch = "redispatch"
	TriggerRefusal    = "refusal"
	TriggerSweep      = "sweep"
)

// DispatchPassEvent describes one candidate search for a demande.
type DispatchPassEvent struct {
	DemandeID   string
	VehicleType model.VehicleType
	Trigger     string
	Attempt     int
	RadiusKm    float64
	Candidates  int
	NearestKm   float64
	MeanKm      float64
	Duration    time.Duration
	Time        time.Time
}

// MetricsSink records dispatch activity for observability purposes.
type MetricsSink interface {
	RecordDispatchPass(ev DispatchPassEvent) error
}

// AcceptanceEvent is the outcome of one accept attempt.
type AcceptanceEvent struct {
	DemandeID    string
	TechnicianID string
	Won          bool
	Reason       string
	DistanceKm   float64
	ETAMinutes   int
	Time         time.Time
}

// AcceptanceRecorder records accept attempts.
type AcceptanceRecorder interface {
	RecordAcceptance(ev AcceptanceEvent) error
}

// TransitionEvent is a committed demande status change.
type TransitionEvent struct {
	DemandeID    string
	From         model.DemandeStatus
	To           model.DemandeStatus
	Actor        string
	TechnicianID string
	Time         time.Time
}

// TransitionRecorder records demande transitions.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// AvailabilityEvent is a technician disponibilite change.
type AvailabilityEvent struct {
	TechnicianID string
	From         model.Disponibilite
	To           model.Disponibilite
	Time         time.Time
}

// AvailabilityRecorder records disponibilite changes.
type AvailabilityRecorder interface {
	RecordAvailability(ev AvailabilityEvent) error
}

// FleetStatusRecorder records how many technicians are in each status.
type FleetStatusRecorder interface {
	RecordFleetStatus(counts map[model.Disponibilite]int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDispatchPass(DispatchPassEvent) error          { return nil }
func (NopSink) RecordAcceptance(AcceptanceEvent) error              { return nil }
func (NopSink) RecordTransition(TransitionEvent) error              { return nil }
func (NopSink) RecordAvailability(AvailabilityEvent) error          { return nil }
func (NopSink) RecordFleetStatus(map[model.Disponibilite]int) error { return nil }
