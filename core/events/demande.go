package events

import (
	"time"

	"github.com/kilianp07/depannage/core/model"
)

// Event is implemented by every event emitted by the core.
type Event interface {
	// Kind is a stable identifier used for topics and metric labels.
	Kind() string
}

// DemandeCreated is published when a demande enters en_attente.
type DemandeCreated struct {
	Demande model.Demande
}

func (DemandeCreated) Kind() string { return "demande_created" }

// CandidatesUpdated is published after each matching pass.
type CandidatesUpdated struct {
	Set     model.CandidateSet
	Attempt int
}

func (CandidatesUpdated) Kind() string { return "candidates_updated" }

// DemandeAccepted is emitted as part of the acceptance unit.
type DemandeAccepted struct {
	DemandeID    string
	ClientID     string
	TechnicianID string
	DistanceKm   float64
	ETAMinutes   int
	At           time.Time
}

func (DemandeAccepted) Kind() string { return "demande_accepted" }

// DemandeTransitioned is emitted for every committed transition.
type DemandeTransitioned struct {
	DemandeID    string
	From         model.DemandeStatus
	To           model.DemandeStatus
	Actor        model.Actor
	TechnicianID string
	At           time.Time
}

func (DemandeTransitioned) Kind() string { return "demande_transitioned" }

// ClaimRejected is emitted when an accept attempt loses.
type ClaimRejected struct {
	DemandeID    string
	TechnicianID string
	Reason       string
}

func (ClaimRejected) Kind() string { return "claim_rejected" }
