package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/depannage/core/events"
	coremetrics "github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
	"github.com/kilianp07/depannage/internal/eventbus"
)

type recordingSink struct {
	coremetrics.NopSink
	mu          sync.Mutex
	transitions []coremetrics.TransitionEvent
	avail       []coremetrics.AvailabilityEvent
	accepts     []coremetrics.AcceptanceEvent
	fleet       int
}

func (r *recordingSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, ev)
	return nil
}

func (r *recordingSink) RecordAvailability(ev coremetrics.AvailabilityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avail = append(r.avail, ev)
	return nil
}

func (r *recordingSink) RecordAcceptance(ev coremetrics.AcceptanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepts = append(r.accepts, ev)
	return nil
}

func (r *recordingSink) RecordFleetStatus(map[model.Disponibilite]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fleet++
	return nil
}

func (r *recordingSink) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions), len(r.avail), len(r.accepts), r.fleet
}

func TestEventCollector(t *testing.T) {
	bus := eventbus.New()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink, logger.NopLogger{})

	bus.Publish(events.DemandeTransitioned{DemandeID: "d1", From: model.StatusEnAttente, To: model.StatusAcceptee, Actor: model.Actor{Kind: model.ActorTechnician, ID: "b"}})
	bus.Publish(events.AvailabilityChanged{TechnicianID: "b", From: model.Disponible, To: model.Occupe})
	bus.Publish(events.DemandeAccepted{DemandeID: "d1", TechnicianID: "b", ETAMinutes: 6})
	bus.Publish(events.ClaimRejected{DemandeID: "d1", TechnicianID: "a", Reason: "already_assigned"})
	bus.Publish(events.PositionUpdated{TechnicianID: "a"})

	assert.Eventually(t, func() bool {
		tr, av, ac, _ := sink.counts()
		return tr == 1 && av == 1 && ac == 2
	}, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "technicien:b", sink.transitions[0].Actor)
	assert.True(t, sink.accepts[0].Won)
	assert.False(t, sink.accepts[1].Won)
	assert.Equal(t, "already_assigned", sink.accepts[1].Reason)
}

func TestFleetRecorder(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartFleetRecorder(ctx, 5*time.Millisecond, func() map[model.Disponibilite]int {
		return map[model.Disponibilite]int{model.Disponible: 1}
	}, sink, logger.NopLogger{})

	assert.Eventually(t, func() bool {
		_, _, _, fleet := sink.counts()
		return fleet >= 2
	}, time.Second, 5*time.Millisecond)
}
