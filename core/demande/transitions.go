package demande

import "github.com/kilianp07/depannage/core/model"

// Event is a lifecycle command kind.
type Event string

const (
	EventAccept   Event = "accept"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	// EventRevert undoes an acceptance whose side effects failed. It is
	// reserved to the assignment arbiter.
	EventRevert Event = "revert"
)

// Transition is a single allowed edge of the demande lifecycle.
type Transition struct {
	From  model.DemandeStatus
	To    model.DemandeStatus
	Event Event
}

var transitionsTable = []Transition{
	{From: model.StatusEnAttente, To: model.StatusAcceptee, Event: EventAccept},
	{From: model.StatusEnAttente, To: model.StatusAnnulee, Event: EventCancel},
	{From: model.StatusAcceptee, To: model.StatusEnCours, Event: EventStart},
	{From: model.StatusAcceptee, To: model.StatusAnnulee, Event: EventCancel},
	{From: model.StatusEnCours, To: model.StatusTerminee, Event: EventComplete},

	{From: model.StatusAcceptee, To: model.StatusEnAttente, Event: EventRevert},
}

// TransitionFor returns the allowed transition for a given state and event.
func TransitionFor(from model.DemandeStatus, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// reachedBy reports whether status is the target of ev from some state, which
// makes a repeated command a no-op instead of an error.
func reachedBy(status model.DemandeStatus, ev Event) bool {
	for _, tr := range transitionsTable {
		if tr.To == status && tr.Event == ev {
			return true
		}
	}
	return false
}

// Transitions returns a copy of the lifecycle table.
func Transitions() []Transition {
	return append([]Transition(nil), transitionsTable...)
}
