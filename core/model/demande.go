package model

import (
	"fmt"
	"strings"
	"time"
)

// DemandeStatus is the lifecycle state of a demande.
type DemandeStatus string

const (
	StatusEnAttente DemandeStatus = "en_attente"
	StatusAcceptee  DemandeStatus = "acceptee"
	StatusEnCours   DemandeStatus = "en_cours"
	StatusTerminee  DemandeStatus = "terminee"
	StatusAnnulee   DemandeStatus = "annulee"
)

// Terminal reports whether no further transition can leave the status.
func (s DemandeStatus) Terminal() bool {
	return s == StatusTerminee || s == StatusAnnulee
}

// Assigned reports whether a demande in this status must reference a technician.
func (s DemandeStatus) Assigned() bool {
	return s == StatusAcceptee || s == StatusEnCours || s == StatusTerminee
}

// Active reports whether the assigned technician is busy with the demande.
func (s DemandeStatus) Active() bool {
	return s == StatusAcceptee || s == StatusEnCours
}

// ParseDemandeStatus converts a raw string into a DemandeStatus.
func ParseDemandeStatus(s string) (DemandeStatus, bool) {
	switch DemandeStatus(strings.ToLower(s)) {
	case StatusEnAttente:
		return StatusEnAttente, true
	case StatusAcceptee:
		return StatusAcceptee, true
	case StatusEnCours:
		return StatusEnCours, true
	case StatusTerminee:
		return StatusTerminee, true
	case StatusAnnulee:
		return StatusAnnulee, true
	default:
		return "", false
	}
}

// ActorKind identifies who triggered a transition.
type ActorKind string

const (
	ActorClient     ActorKind = "client"
	ActorTechnician ActorKind = "technicien"
	ActorSystem     ActorKind = "system"
)

// Actor is the caller of a state machine command.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// SystemActor is used for timeout-triggered transitions.
var SystemActor = Actor{Kind: ActorSystem}

func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}

// Demande is a client's roadside-assistance request.
type Demande struct {
	ID                   string        `json:"id"`
	ClientID             string        `json:"client_id"`
	Pickup               Point         `json:"pickup"`
	VehicleType          VehicleType   `json:"vehicle_type"`
	TypePanne            string        `json:"type_panne"`
	Description          string        `json:"description,omitempty"`
	Status               DemandeStatus `json:"status"`
	AssignedTechnicianID *string       `json:"assigned_technician_id,omitempty"`
	Cost                 *float64      `json:"cost,omitempty"`
	CancelledBy          *Actor        `json:"cancelled_by,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	AcceptedAt           *time.Time    `json:"accepted_at,omitempty"`
	StartedAt            *time.Time    `json:"started_at,omitempty"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	// Version increases by one on every committed transition and backs
	// compare-and-swap updates in stores.
	Version int64 `json:"version"`
}

// AssignedTo returns the assigned technician or an empty string.
func (d Demande) AssignedTo() string {
	if d.AssignedTechnicianID == nil {
		return ""
	}
	return *d.AssignedTechnicianID
}

// Validate checks the assignment invariant and mandatory fields.
func (d Demande) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("demande id is required")
	}
	if d.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if err := d.Pickup.Validate(); err != nil {
		return err
	}
	if d.Status.Assigned() != (d.AssignedTechnicianID != nil) {
		return fmt.Errorf("demande %s: status %s inconsistent with assignment", d.ID, d.Status)
	}
	return nil
}

// Clone returns a deep copy so stored values never alias caller memory.
func (d Demande) Clone() Demande {
	c := d
	if d.AssignedTechnicianID != nil {
		v := *d.AssignedTechnicianID
		c.AssignedTechnicianID = &v
	}
	if d.Cost != nil {
		v := *d.Cost
		c.Cost = &v
	}
	if d.CancelledBy != nil {
		v := *d.CancelledBy
		c.CancelledBy = &v
	}
	c.AcceptedAt = cloneTime(d.AcceptedAt)
	c.StartedAt = cloneTime(d.StartedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	c.CancelledAt = cloneTime(d.CancelledAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NewDemande carries the client-submitted fields of a demande.
type NewDemande struct {
	ClientID    string      `json:"client_id"`
	Pickup      Point       `json:"pickup"`
	VehicleType VehicleType `json:"vehicle_type"`
	TypePanne   string      `json:"type_panne"`
	Description string      `json:"description"`
}

// Validate checks the submission.
func (n NewDemande) Validate() error {
	if n.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if err := n.Pickup.Validate(); err != nil {
		return err
	}
	if _, ok := ParseVehicleType(string(n.VehicleType)); !ok {
		return fmt.Errorf("%w: unknown vehicle type %q", ErrValidation, n.VehicleType)
	}
	if strings.TrimSpace(n.TypePanne) == "" {
		return fmt.Errorf("%w: type de panne is required", ErrValidation)
	}
	return nil
}

// Normalize validates n and returns it with its vehicle type in canonical
// form.
func (n NewDemande) Normalize() (NewDemande, error) {
	if err := n.Validate(); err != nil {
		return NewDemande{}, err
	}
	n.VehicleType, _ = ParseVehicleType(string(n.VehicleType))
	return n, nil
}

// DemandeView is what a client sees while polling its demande: whether the
// search is still running, or the assigned technician's distance and ETA.
type DemandeView struct {
	Demande
	Searching      bool     `json:"searching"`
	CandidateCount int      `json:"candidate_count"`
	DistanceKm     *float64 `json:"distance_km,omitempty"`
	ETAMinutes     *int     `json:"eta_minutes,omitempty"`
}
