// Package demande holds the authoritative lifecycle of a demande. Every
// mutation goes through a guarded transition committed with a
// compare-and-swap on the stored version, so concurrent commands on one
// demande are linearized by the store.
package demande

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/depannage/core/audit"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/model"
)

const maxCASAttempts = 8

// Command asks the machine to apply one lifecycle event.
type Command struct {
	DemandeID string
	Event     Event
	Actor     model.Actor
	// TechnicianID is the claimant of an accept.
	TechnicianID string
	// Cost is recorded on completion.
	Cost *float64
	// IfStatus, when set, makes the command fail with ErrAlreadyResolved
	// unless the demande is still in that status.
	IfStatus model.DemandeStatus
}

// Outcome describes the result of an applied command.
type Outcome struct {
	Demande model.Demande
	From    model.DemandeStatus
	// TechnicianID is the technician assigned before the transition, so
	// callers can release it after a cancellation.
	TechnicianID string
	// Changed is false when the command was an idempotent repeat.
	Changed bool
}

// Machine is the RequestStateMachine.
type Machine struct {
	store   Store
	pub     events.Publisher
	journal audit.Store
	log     logger.Logger
	now     func() time.Time
	newID   func() string
}

// NewMachine creates a state machine over store.
func NewMachine(store Store, pub events.Publisher, journal audit.Store, log logger.Logger) *Machine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if journal == nil {
		journal = audit.NopStore{}
	}
	return &Machine{store: store, pub: pub, journal: journal, log: logger.OrNop(log), now: time.Now, newID: uuid.NewString}
}

// SetClock overrides the time source. Used by tests.
func (m *Machine) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create validates a submission and stores it in en_attente.
func (m *Machine) Create(ctx context.Context, in model.NewDemande) (model.Demande, error) {
	in, err := in.Normalize()
	if err != nil {
		return model.Demande{}, err
	}
	d := model.Demande{
		ID:          m.newID(),
		ClientID:    in.ClientID,
		Pickup:      in.Pickup,
		VehicleType: in.VehicleType,
		TypePanne:   in.TypePanne,
		Description: in.Description,
		Status:      model.StatusEnAttente,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Insert(ctx, d); err != nil {
		return model.Demande{}, fmt.Errorf("insert demande: %w", err)
	}
	transitionsTotal.WithLabelValues("", string(model.StatusEnAttente)).Inc()
	m.pub.Publish(events.DemandeCreated{Demande: d.Clone()})
	return d, nil
}

// Get returns the current state of a demande.
func (m *Machine) Get(ctx context.Context, id string) (model.Demande, error) {
	return m.store.Get(ctx, id)
}

// List returns demandes matching f.
func (m *Machine) List(ctx context.Context, f Filter) ([]model.Demande, error) {
	return m.store.List(ctx, f)
}

// Apply runs the guarded transition for cmd. A rejected command never
// changes the stored state.
func (m *Machine) Apply(ctx context.Context, cmd Command) (Outcome, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := m.store.Get(ctx, cmd.DemandeID)
		if err != nil {
			return Outcome{}, err
		}
		if cmd.IfStatus != "" && cur.Status != cmd.IfStatus {
			if cmd.Event == EventCancel && cur.CancelledBy != nil && *cur.CancelledBy == cmd.Actor {
				return Outcome{Demande: cur, From: cur.Status}, nil
			}
			rejectedTotal.WithLabelValues(string(cmd.Event), "already_resolved").Inc()
			return Outcome{Demande: cur, From: cur.Status}, fmt.Errorf("demande %s is %s: %w", cur.ID, cur.Status, model.ErrAlreadyResolved)
		}
		tr, ok := TransitionFor(cur.Status, cmd.Event)
		if !ok {
			if m.isRepeat(cur, cmd) {
				return Outcome{Demande: cur, From: cur.Status, TechnicianID: cur.AssignedTo()}, nil
			}
			err := m.rejection(cur, cmd)
			rejectedTotal.WithLabelValues(string(cmd.Event), reasonLabel(err)).Inc()
			return Outcome{Demande: cur, From: cur.Status}, err
		}
		if err := guard(cur, cmd); err != nil {
			rejectedTotal.WithLabelValues(string(cmd.Event), reasonLabel(err)).Inc()
			return Outcome{Demande: cur, From: cur.Status}, err
		}
		next := m.advance(cur, tr, cmd)
		swapped, err := m.store.CompareAndSwap(ctx, cur.Version, next)
		if err != nil {
			return Outcome{}, fmt.Errorf("commit %s on %s: %w", cmd.Event, cur.ID, err)
		}
		if !swapped {
			casConflicts.Inc()
			continue
		}
		m.committed(ctx, cur, next, cmd)
		return Outcome{Demande: next, From: cur.Status, TechnicianID: cur.AssignedTo(), Changed: true}, nil
	}
	return Outcome{}, fmt.Errorf("demande %s: %w", cmd.DemandeID, model.ErrVersionConflict)
}

// isRepeat detects a retried command whose effect is already in place.
func (m *Machine) isRepeat(cur model.Demande, cmd Command) bool {
	if cmd.Event == EventAccept || !reachedBy(cur.Status, cmd.Event) {
		return false
	}
	switch cmd.Event {
	case EventRevert:
		return true
	case EventCancel:
		return true
	default:
		return cmd.Actor.Kind == model.ActorTechnician && cmd.Actor.ID == cur.AssignedTo()
	}
}

func (m *Machine) rejection(cur model.Demande, cmd Command) error {
	switch {
	case cmd.Event == EventAccept && cur.Status == model.StatusAnnulee:
		return fmt.Errorf("demande %s was cancelled: %w", cur.ID, model.ErrAlreadyResolved)
	case cmd.Event == EventAccept && cur.Status.Assigned():
		return fmt.Errorf("demande %s assigned to %s: %w", cur.ID, cur.AssignedTo(), model.ErrAlreadyAssigned)
	case cmd.Event == EventCancel && cur.Status.Terminal():
		return fmt.Errorf("demande %s is %s: %w", cur.ID, cur.Status, model.ErrAlreadyResolved)
	}
	return fmt.Errorf("%w: %s from %s on demande %s", model.ErrInvalidTransition, cmd.Event, cur.Status, cur.ID)
}

func guard(cur model.Demande, cmd Command) error {
	switch cmd.Event {
	case EventAccept:
		if cmd.TechnicianID == "" {
			return fmt.Errorf("%w: accept requires a technician", model.ErrValidation)
		}
		if cur.AssignedTechnicianID != nil {
			return fmt.Errorf("demande %s: %w", cur.ID, model.ErrAlreadyAssigned)
		}
	case EventStart, EventComplete:
		if cmd.Actor.Kind != model.ActorTechnician || cmd.Actor.ID != cur.AssignedTo() {
			return fmt.Errorf("%w: %s is not the assigned technician of %s", model.ErrForbidden, cmd.Actor, cur.ID)
		}
		if cmd.Cost != nil && *cmd.Cost < 0 {
			return fmt.Errorf("%w: cost must not be negative", model.ErrValidation)
		}
	case EventCancel:
		switch cmd.Actor.Kind {
		case model.ActorSystem:
		case model.ActorClient:
			if cmd.Actor.ID != cur.ClientID {
				return fmt.Errorf("%w: %s does not own %s", model.ErrForbidden, cmd.Actor, cur.ID)
			}
		case model.ActorTechnician:
			if cur.Status != model.StatusAcceptee || cmd.Actor.ID != cur.AssignedTo() {
				return fmt.Errorf("%w: %s cannot cancel %s", model.ErrForbidden, cmd.Actor, cur.ID)
			}
		default:
			return fmt.Errorf("%w: unknown actor %q", model.ErrForbidden, cmd.Actor.Kind)
		}
	case EventRevert:
		if cmd.Actor.Kind != model.ActorSystem {
			return fmt.Errorf("%w: revert is internal", model.ErrForbidden)
		}
	}
	return nil
}

func (m *Machine) advance(cur model.Demande, tr Transition, cmd Command) model.Demande {
	next := cur.Clone()
	now := m.now().UTC()
	next.Status = tr.To
	next.Version = cur.Version + 1
	switch tr.Event {
	case EventAccept:
		tech := cmd.TechnicianID
		next.AssignedTechnicianID = &tech
		next.AcceptedAt = &now
	case EventStart:
		next.StartedAt = &now
	case EventComplete:
		next.CompletedAt = &now
		if cmd.Cost != nil {
			c := *cmd.Cost
			next.Cost = &c
		}
	case EventCancel:
		actor := cmd.Actor
		next.CancelledBy = &actor
		next.CancelledAt = &now
		next.AssignedTechnicianID = nil
	case EventRevert:
		next.AssignedTechnicianID = nil
		next.AcceptedAt = nil
	}
	return next
}

func (m *Machine) committed(ctx context.Context, cur, next model.Demande, cmd Command) {
	tech := next.AssignedTo()
	if tech == "" {
		tech = cur.AssignedTo()
	}
	at := m.now().UTC()
	transitionsTotal.WithLabelValues(string(cur.Status), string(next.Status)).Inc()
	m.log.Infow("demande transition", map[string]any{
		"demande_id": next.ID, "event": string(cmd.Event), "from": string(cur.Status),
		"to": string(next.Status), "actor": cmd.Actor.String(), "version": next.Version,
	})
	if err := m.journal.Append(ctx, audit.Record{
		Timestamp:    at,
		DemandeID:    next.ID,
		Event:        string(cmd.Event),
		From:         cur.Status,
		To:           next.Status,
		Actor:        cmd.Actor.String(),
		TechnicianID: tech,
		Version:      next.Version,
	}); err != nil {
		m.log.Errorf("audit append for %s: %v", next.ID, err)
	}
	m.pub.Publish(events.DemandeTransitioned{
		DemandeID: next.ID, From: cur.Status, To: next.Status, Actor: cmd.Actor, TechnicianID: tech, At: at,
	})
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, model.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	default:
		return "invalid_transition"
	}
}
