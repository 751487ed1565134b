package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	coremetrics "github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/core/monitoring"
	"github.com/kilianp07/depannage/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards transitions,
// availability changes and accept outcomes to the sink recorders it
// implements. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, log logger.Logger) {
	log = logger.OrNop(log)
	if bus == nil || sink == nil {
		return
	}
	sub := bus.SubscribeFilter(func(ev events.Event) bool {
		switch ev.(type) {
		case events.DemandeTransitioned, events.AvailabilityChanged, events.DemandeAccepted, events.ClaimRejected:
			return true
		}
		return false
	})
	go func() {
		defer monitoring.Recover()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := record(sink, ev); err != nil {
					log.Warnf("record %s: %v", ev.Kind(), err)
				}
			}
		}
	}()
}

func record(sink coremetrics.MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.DemandeTransitioned:
		if r, ok := sink.(coremetrics.TransitionRecorder); ok {
			return r.RecordTransition(coremetrics.TransitionEvent{
				DemandeID: e.DemandeID, From: e.From, To: e.To,
				Actor: e.Actor.String(), TechnicianID: e.TechnicianID, Time: e.At,
			})
		}
	case events.AvailabilityChanged:
		if r, ok := sink.(coremetrics.AvailabilityRecorder); ok {
			return r.RecordAvailability(coremetrics.AvailabilityEvent{
				TechnicianID: e.TechnicianID, From: e.From, To: e.To, Time: e.At,
			})
		}
	case events.DemandeAccepted:
		if r, ok := sink.(coremetrics.AcceptanceRecorder); ok {
			return r.RecordAcceptance(coremetrics.AcceptanceEvent{
				DemandeID: e.DemandeID, TechnicianID: e.TechnicianID, Won: true,
				DistanceKm: e.DistanceKm, ETAMinutes: e.ETAMinutes, Time: e.At,
			})
		}
	case events.ClaimRejected:
		if r, ok := sink.(coremetrics.AcceptanceRecorder); ok {
			return r.RecordAcceptance(coremetrics.AcceptanceEvent{
				DemandeID: e.DemandeID, TechnicianID: e.TechnicianID, Reason: e.Reason, Time: time.Now(),
			})
		}
	}
	return nil
}

// StartFleetRecorder periodically records the technician count per
// disponibilite when the sink supports it.
func StartFleetRecorder(ctx context.Context, interval time.Duration, fleet func() map[model.Disponibilite]int, sink coremetrics.MetricsSink, log logger.Logger) {
	log = logger.OrNop(log)
	r, ok := sink.(coremetrics.FleetStatusRecorder)
	if !ok || fleet == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		defer monitoring.Recover()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := r.RecordFleetStatus(fleet()); err != nil {
				log.Warnf("record fleet status: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
