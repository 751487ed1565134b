package events

import (
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// AvailabilityChanged is published when a technician's disponibilite changes.
type AvailabilityChanged struct {
	TechnicianID string
	From         model.Disponibilite
	To           model.Disponibilite
	DemandeID    string
	At           time.Time
}

func (AvailabilityChanged) Kind() string { return "availability_changed" }

// PositionUpdated is published for each accepted position report.
type PositionUpdated struct {
	TechnicianID string
	Position     model.Point
	At           time.Time
}

func (PositionUpdated) Kind() string { return "position_updated" }
