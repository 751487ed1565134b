// Package events defines the dispatch related events emitted on the event bus
// and handed to the notification fanout.
//
// Available event types:
//   - DemandeCreated: a client submitted a new demande
//   - CandidatesUpdated: a matching pass produced a new candidate set
//   - DemandeAccepted: a technician won the assignment of a demande
//   - DemandeTransitioned: any committed lifecycle transition
//   - ClaimRejected: a technician lost an accept attempt
//   - AvailabilityChanged: a technician's disponibilite changed
//   - PositionUpdated: a technician reported a new position
package events
