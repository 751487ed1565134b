package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/model"
)

// Message is the envelope of every payload published by the notifier.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Route is one publication derived from an event.
type Route struct {
	Topic []string
	Kind  string
	Data  any
}

type statusPayload struct {
	DemandeID    string              `json:"demande_id"`
	Status       model.DemandeStatus `json:"status"`
	From         model.DemandeStatus `json:"from,omitempty"`
	TechnicianID string              `json:"technician_id,omitempty"`
	Actor        string              `json:"actor,omitempty"`
	DistanceKm   *float64            `json:"distance_km,omitempty"`
	ETAMinutes   *int                `json:"eta_minutes,omitempty"`
}

type offerPayload struct {
	DemandeID  string  `json:"demande_id"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	ETAMinutes int     `json:"eta_minutes,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type candidatesPayload struct {
	DemandeID  string            `json:"demande_id"`
	RadiusKm   float64           `json:"radius_km"`
	Attempt    int               `json:"attempt"`
	Candidates []model.Candidate `json:"candidates"`
}

// Routes maps an event to its MQTT publications. Availability and position
// events stay internal and yield no route.
func Routes(ev events.Event) []Route {
	switch e := ev.(type) {
	case events.DemandeCreated:
		return []Route{{
			Topic: []string{"demandes", e.Demande.ID, "status"},
			Kind:  "status",
			Data:  statusPayload{DemandeID: e.Demande.ID, Status: e.Demande.Status},
		}}
	case events.CandidatesUpdated:
		routes := []Route{{
			Topic: []string{"demandes", e.Set.DemandeID, "candidates"},
			Kind:  "candidates",
			Data: candidatesPayload{
				DemandeID: e.Set.DemandeID, RadiusKm: e.Set.RadiusKm, Attempt: e.Attempt,
				Candidates: append([]model.Candidate{}, e.Set.Candidates...),
			},
		}}
		for _, c := range e.Set.Candidates {
			routes = append(routes, Route{
				Topic: []string{"techniciens", c.TechnicianID, "offers"},
				Kind:  "offers",
				Data:  offerPayload{DemandeID: e.Set.DemandeID, DistanceKm: model.RoundKm(c.DistanceKm), ETAMinutes: c.ETAMinutes},
			})
		}
		return routes
	case events.DemandeAccepted:
		km, eta := model.RoundKm(e.DistanceKm), e.ETAMinutes
		return []Route{
			{
				Topic: []string{"demandes", e.DemandeID, "status"},
				Kind:  "status",
				Data: statusPayload{
					DemandeID: e.DemandeID, Status: model.StatusAcceptee, From: model.StatusEnAttente,
					TechnicianID: e.TechnicianID, DistanceKm: &km, ETAMinutes: &eta,
				},
			},
			{
				Topic: []string{"techniciens", e.TechnicianID, "offers"},
				Kind:  "offers",
				Data:  offerPayload{DemandeID: e.DemandeID, DistanceKm: km, ETAMinutes: eta, Reason: "assigned"},
			},
		}
	case events.DemandeTransitioned:
		return []Route{{
			Topic: []string{"demandes", e.DemandeID, "status"},
			Kind:  "status",
			Data: statusPayload{
				DemandeID: e.DemandeID, Status: e.To, From: e.From,
				TechnicianID: e.TechnicianID, Actor: e.Actor.String(),
			},
		}}
	case events.ClaimRejected:
		return []Route{{
			Topic: []string{"techniciens", e.TechnicianID, "offers"},
			Kind:  "offers",
			Data:  offerPayload{DemandeID: e.DemandeID, Reason: e.Reason},
		}}
	}
	return nil
}

type publisher interface {
	Topic(parts ...string) string
	PublishContext(ctx context.Context, topic, kind string, payload []byte) error
}

// Notifier is the MQTT implementation of events.Notifier.
type Notifier struct {
	pub publisher
	now func() time.Time
}

// NewNotifier creates a notifier publishing through c.
func NewNotifier(c *PahoClient) *Notifier {
	return &Notifier{pub: c, now: time.Now}
}

// Notify publishes every route of ev. It returns once the broker accepted
// all of them or the retries are exhausted.
func (n *Notifier) Notify(ctx context.Context, ev events.Event) error {
	var errs []error
	for _, r := range Routes(ev) {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(Message{Type: ev.Kind(), Timestamp: n.now().UnixMilli(), Data: r.Data})
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.Kind(), err)
		}
		if err := n.pub.PublishContext(ctx, n.pub.Topic(r.Topic...), r.Kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
