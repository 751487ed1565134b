// Package assignment resolves concurrent accept attempts on a demande. The
// first committed claim wins; its side effects are applied as one unit and
// undone when any of them fails.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/core/monitoring"
)

// Reason explains why a claim did not win.
type Reason string

const (
	ReasonAlreadyAssigned Reason = "AlreadyAssigned"
	ReasonAlreadyResolved Reason = "AlreadyResolved"
	ReasonNotEligible     Reason = "NotEligible"
	// ReasonRolledBack means the claim won the race but a side effect
	// failed and the acceptance was undone.
	ReasonRolledBack Reason = "RolledBack"
)

// Result is the answer to a TryAccept call.
type Result struct {
	Won    bool   `json:"won"`
	Reason Reason `json:"reason,omitempty"`
}

// Machine is the part of the state machine the arbiter drives.
type Machine interface {
	Get(ctx context.Context, id string) (model.Demande, error)
	Apply(ctx context.Context, cmd demande.Command) (demande.Outcome, error)
}

// Availability is the part of the availability manager the arbiter drives.
type Availability interface {
	CanReceiveDemande(id string, vt model.VehicleType) bool
	MarkBusy(id, demandeID string) error
	Release(id, demandeID string) error
}

// Dispatcher gives the arbiter access to candidate views.
type Dispatcher interface {
	// Estimate returns the technician's distance and ETA to the demande.
	Estimate(d model.Demande, technicianID string) (model.Candidate, bool)
	Forget(demandeID string)
	// Refused reports whether the technician refused the demande.
	Refused(demandeID, technicianID string) bool
	Redispatch(ctx context.Context, demandeID string) (model.CandidateSet, error)
}

// DefaultNotifyTimeout bounds the acceptance notification so a slow broker
// cannot hold a demande's claim lock indefinitely.
const DefaultNotifyTimeout = 5 * time.Second

// claimLock serializes the commands on one demande. refs counts the holders
// and waiters so the entry is dropped once nobody needs it.
type claimLock struct {
	mu   sync.Mutex
	refs int
}

// Arbiter is the AssignmentArbiter.
type Arbiter struct {
	machine       Machine
	avail         Availability
	dispatch      Dispatcher
	notifier      events.Notifier
	pub           events.Publisher
	log           logger.Logger
	now           func() time.Time
	notifyTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*claimLock
}

// New builds an arbiter. notifier receives the acceptance event as part of
// the winning unit; pub receives the informational ClaimRejected events.
func New(machine Machine, avail Availability, dispatch Dispatcher, notifier events.Notifier, pub events.Publisher, log logger.Logger) *Arbiter {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Arbiter{
		machine: machine, avail: avail, dispatch: dispatch, notifier: notifier, pub: pub, log: logger.OrNop(log),
		now: time.Now, notifyTimeout: DefaultNotifyTimeout, locks: make(map[string]*claimLock),
	}
}

// SetNotifyTimeout overrides the deadline of the acceptance notification.
// Zero or negative values keep the current one.
func (a *Arbiter) SetNotifyTimeout(d time.Duration) {
	if d > 0 {
		a.notifyTimeout = d
	}
}

// lock takes the claim lock of a demande and returns its release function.
func (a *Arbiter) lock(demandeID string) func() {
	a.mu.Lock()
	l, ok := a.locks[demandeID]
	if !ok {
		l = &claimLock{}
		a.locks[demandeID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, demandeID)
		}
		a.mu.Unlock()
	}
}

// TryAccept resolves one claim. An error is returned only for unexpected
// failures (storage, unknown demande); losing a race is a normal Result.
func (a *Arbiter) TryAccept(ctx context.Context, demandeID, technicianID string) (Result, error) {
	start := a.now()
	res, redispatch, err := a.resolve(ctx, model.AssignmentClaim{DemandeID: demandeID, TechnicianID: technicianID, At: start})
	acceptLatency.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		acceptAttempts.WithLabelValues("error").Inc()
	case res.Won:
		acceptAttempts.WithLabelValues("won").Inc()
	default:
		acceptAttempts.WithLabelValues(string(res.Reason)).Inc()
		a.pub.Publish(events.ClaimRejected{DemandeID: demandeID, TechnicianID: technicianID, Reason: string(res.Reason)})
	}
	if redispatch && a.dispatch != nil {
		if _, derr := a.dispatch.Redispatch(ctx, demandeID); derr != nil {
			a.log.Warnf("redispatch after rollback of %s: %v", demandeID, derr)
		}
	}
	return res, err
}

func (a *Arbiter) resolve(ctx context.Context, claim model.AssignmentClaim) (Result, bool, error) {
	unlock := a.lock(claim.DemandeID)
	defer unlock()

	d, err := a.machine.Get(ctx, claim.DemandeID)
	if err != nil {
		return Result{}, false, err
	}
	if d.AssignedTo() == claim.TechnicianID && d.Status.Active() {
		return Result{Won: true}, false, nil
	}
	if d.Status != model.StatusEnAttente {
		return Result{Reason: lostReason(d.Status)}, false, nil
	}
	if !a.avail.CanReceiveDemande(claim.TechnicianID, d.VehicleType) {
		return Result{Reason: ReasonNotEligible}, false, nil
	}
	if a.dispatch != nil && a.dispatch.Refused(d.ID, claim.TechnicianID) {
		return Result{Reason: ReasonNotEligible}, false, nil
	}

	out, err := a.machine.Apply(ctx, demande.Command{
		DemandeID:    d.ID,
		Event:        demande.EventAccept,
		Actor:        model.Actor{Kind: model.ActorTechnician, ID: claim.TechnicianID},
		TechnicianID: claim.TechnicianID,
	})
	switch {
	case errors.Is(err, model.ErrAlreadyAssigned), errors.Is(err, model.ErrVersionConflict):
		return Result{Reason: ReasonAlreadyAssigned}, false, nil
	case errors.Is(err, model.ErrAlreadyResolved):
		return Result{Reason: ReasonAlreadyResolved}, false, nil
	case err != nil:
		return Result{}, false, err
	}

	if err := a.avail.MarkBusy(claim.TechnicianID, d.ID); err != nil {
		a.rollback(ctx, out.Demande, claim, false, err)
		return Result{Reason: ReasonNotEligible}, true, nil
	}

	ev := events.DemandeAccepted{DemandeID: d.ID, ClientID: d.ClientID, TechnicianID: claim.TechnicianID, At: a.now().UTC()}
	if a.dispatch != nil {
		if c, ok := a.dispatch.Estimate(d, claim.TechnicianID); ok {
			ev.DistanceKm, ev.ETAMinutes = c.DistanceKm, c.ETAMinutes
		}
	}
	nctx, cancel := context.WithTimeout(ctx, a.notifyTimeout)
	err = a.notifier.Notify(nctx, ev)
	cancel()
	if err != nil {
		a.rollback(ctx, out.Demande, claim, true, err)
		return Result{Reason: ReasonRolledBack}, true, nil
	}

	if a.dispatch != nil {
		a.dispatch.Forget(d.ID)
	}
	a.log.Infow("demande accepted", map[string]any{
		"demande_id": d.ID, "technician_id": claim.TechnicianID,
		"distance_km": model.RoundKm(ev.DistanceKm), "eta_minutes": ev.ETAMinutes,
	})
	return Result{Won: true}, false, nil
}

// rollback undoes a partially applied acceptance and leaves the demande in
// en_attente. A revert that finds the demande already moved on (for example
// cancelled by the client meanwhile) is not an error.
func (a *Arbiter) rollback(ctx context.Context, d model.Demande, claim model.AssignmentClaim, busy bool, cause error) {
	rollbacks.Inc()
	if busy {
		if err := a.avail.Release(claim.TechnicianID, d.ID); err != nil {
			a.log.Errorf("release %s during rollback of %s: %v", claim.TechnicianID, d.ID, err)
		}
	}
	_, err := a.machine.Apply(ctx, demande.Command{DemandeID: d.ID, Event: demande.EventRevert, Actor: model.SystemActor})
	if err != nil && !errors.Is(err, model.ErrInvalidTransition) {
		monitoring.CaptureException(fmt.Errorf("revert %s: %w", d.ID, err), map[string]string{"component": "assignment"})
	}
	a.log.Warnf("acceptance of %s by %s rolled back: %v", d.ID, claim.TechnicianID, cause)
}

func lostReason(s model.DemandeStatus) Reason {
	if s.Assigned() {
		return ReasonAlreadyAssigned
	}
	return ReasonAlreadyResolved
}

// WithDemande runs fn while holding the demande's claim lock, so that
// lifecycle commands issued by other paths never interleave with the
// acceptance unit.
func (a *Arbiter) WithDemande(demandeID string, fn func() error) error {
	unlock := a.lock(demandeID)
	defer unlock()
	return fn()
}
