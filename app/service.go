// Package app composes the dispatch core into the operations exposed to
// clients and technicians.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/depannage/core/assignment"
	"github.com/kilianp07/depannage/core/audit"
	"github.com/kilianp07/depannage/core/availability"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/dispatch"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/geo"
	"github.com/kilianp07/depannage/core/logger"
	coremetrics "github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
	infralogger "github.com/kilianp07/depannage/infra/logger"
)

// Components are the collaborators a Service is built from. Only Store is
// mandatory.
type Components struct {
	Store    demande.Store
	Journal  audit.Store
	Notifier events.Notifier
	Bus      events.Publisher
	Sink     coremetrics.MetricsSink
	Logger   logger.Logger
	Dispatch dispatch.Config
	Geo      geo.Config
}

// Service implements the external operations of the dispatch engine.
type Service struct {
	machine *demande.Machine
	avail   *availability.Manager
	index   *geo.GridIndex
	engine  *dispatch.Engine
	arbiter *assignment.Arbiter
	pub     events.Publisher
	log     logger.Logger
}

// NewService wires the state machine, availability manager, geo index,
// dispatch engine and arbiter together.
func NewService(c Components) (*Service, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("app: nil demande store")
	}
	if c.Bus == nil {
		c.Bus = events.NopPublisher{}
	}
	if c.Logger == nil {
		c.Logger = infralogger.NopLogger{}
	}
	c.Geo.SetDefaults()
	if err := c.Geo.Validate(); err != nil {
		return nil, err
	}
	machine := demande.NewMachine(c.Store, c.Bus, c.Journal, c.Logger)
	avail := availability.NewManager(c.Bus, c.Logger)
	index := geo.NewGridIndex(c.Geo)
	engine, err := dispatch.NewEngine(c.Dispatch, dispatch.Deps{
		Demandes:     machine,
		Index:        index,
		Availability: avail,
		Publisher:    c.Bus,
		Sink:         c.Sink,
		Logger:       c.Logger,
		SpeedKmh:     c.Geo.AverageSpeedKmh,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}
	arbiter := assignment.New(machine, avail, engine, c.Notifier, c.Bus, c.Logger)
	arbiter.SetNotifyTimeout(engine.Config().NotifyTimeout())
	return &Service{
		machine: machine,
		avail:   avail,
		index:   index,
		engine:  engine,
		arbiter: arbiter,
		pub:     c.Bus,
		log:     c.Logger,
	}, nil
}

// Engine exposes the dispatch engine so the caller can run its sweeper.
func (s *Service) Engine() *dispatch.Engine { return s.engine }

// CreateDemande stores a new demande and runs the first dispatch pass. A
// failed pass is logged and left to the sweeper; the demande still exists.
func (s *Service) CreateDemande(ctx context.Context, in model.NewDemande) (model.Demande, error) {
	d, err := s.machine.Create(ctx, in)
	if err != nil {
		return model.Demande{}, err
	}
	if _, err := s.engine.Dispatch(ctx, d.ID); err != nil {
		s.log.Errorf("initial dispatch of %s: %v", d.ID, err)
	}
	return d, nil
}

// GetDemande returns the demande with its search state, or the assigned
// technician's distance and ETA once accepted.
func (s *Service) GetDemande(ctx context.Context, id string) (model.DemandeView, error) {
	d, err := s.machine.Get(ctx, id)
	if err != nil {
		return model.DemandeView{}, err
	}
	v := model.DemandeView{Demande: d}
	switch {
	case d.Status == model.StatusEnAttente:
		v.Searching = true
		if set, ok := s.engine.Candidates(id); ok {
			v.CandidateCount = len(set.Candidates)
		}
	case d.Status.Active():
		if c, ok := s.engine.Estimate(d, d.AssignedTo()); ok {
			km := model.RoundKm(c.DistanceKm)
			v.DistanceKm, v.ETAMinutes = &km, &c.ETAMinutes
		}
	}
	return v, nil
}

// ListDemandes returns stored demandes matching f.
func (s *Service) ListDemandes(ctx context.Context, f demande.Filter) ([]model.Demande, error) {
	return s.machine.List(ctx, f)
}

// NearbyDemandes is the read-only view polled by technicians.
func (s *Service) NearbyDemandes(technicianID string) ([]model.Offer, error) {
	if _, err := s.avail.Get(technicianID); err != nil {
		return nil, err
	}
	return s.engine.NearbyFor(technicianID), nil
}

// Accept resolves a technician's claim on a demande.
func (s *Service) Accept(ctx context.Context, demandeID, technicianID string) (assignment.Result, error) {
	if _, err := s.avail.Get(technicianID); err != nil {
		return assignment.Result{}, err
	}
	return s.arbiter.TryAccept(ctx, demandeID, technicianID)
}

// Refuse removes the technician from the demande's candidates.
func (s *Service) Refuse(ctx context.Context, demandeID, technicianID string) error {
	return s.engine.Refuse(ctx, demandeID, technicianID)
}

// Start moves an accepted demande to en_cours.
func (s *Service) Start(ctx context.Context, demandeID, technicianID string) (model.Demande, error) {
	var out demande.Outcome
	err := s.arbiter.WithDemande(demandeID, func() error {
		var err error
		out, err = s.machine.Apply(ctx, demande.Command{
			DemandeID: demandeID,
			Event:     demande.EventStart,
			Actor:     model.Actor{Kind: model.ActorTechnician, ID: technicianID},
		})
		return err
	})
	return out.Demande, err
}

// Complete closes an intervention and frees the technician.
func (s *Service) Complete(ctx context.Context, demandeID, technicianID string, cost *float64) (model.Demande, error) {
	var out demande.Outcome
	err := s.arbiter.WithDemande(demandeID, func() error {
		var err error
		out, err = s.machine.Apply(ctx, demande.Command{
			DemandeID: demandeID,
			Event:     demande.EventComplete,
			Actor:     model.Actor{Kind: model.ActorTechnician, ID: technicianID},
			Cost:      cost,
		})
		if err != nil {
			return err
		}
		return s.avail.Release(technicianID, demandeID)
	})
	return out.Demande, err
}

// Cancel cancels a demande on behalf of actor, releasing the assigned
// technician if any. A non-empty ifStatus makes the cancel a compare-and-set:
// it fails with ErrAlreadyResolved once the demande has left that status, so
// a client cancelling a search loses to an accept that committed first.
func (s *Service) Cancel(ctx context.Context, demandeID string, actor model.Actor, ifStatus model.DemandeStatus) (model.Demande, error) {
	var out demande.Outcome
	err := s.arbiter.WithDemande(demandeID, func() error {
		var err error
		out, err = s.machine.Apply(ctx, demande.Command{
			DemandeID: demandeID,
			Event:     demande.EventCancel,
			Actor:     actor,
			IfStatus:  ifStatus,
		})
		if err != nil {
			return err
		}
		s.engine.Forget(demandeID)
		if out.TechnicianID == "" {
			return nil
		}
		if err := s.avail.Release(out.TechnicianID, demandeID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		return nil
	})
	return out.Demande, err
}

// RegisterTechnician adds or refreshes a technician profile. A position in
// the profile is indexed right away.
func (s *Service) RegisterTechnician(t model.Technician) (model.Technician, error) {
	tech, err := s.avail.Register(t)
	if err != nil {
		return model.Technician{}, err
	}
	s.index.SetCapabilities(tech.ID, tech.VehicleCapabilities)
	if t.Position != nil {
		if err := s.index.UpsertPosition(tech.ID, t.Position.Lat, t.Position.Lng); err != nil {
			return model.Technician{}, err
		}
	}
	return s.Technician(tech.ID)
}

// Technician returns the profile with its last indexed position.
func (s *Service) Technician(id string) (model.Technician, error) {
	tech, err := s.avail.Get(id)
	if err != nil {
		return model.Technician{}, err
	}
	if pos, ok := s.index.Position(id); ok {
		tech.Position = &pos
	}
	return tech, nil
}

// Technicians lists every registered technician.
func (s *Service) Technicians() []model.Technician {
	techs := s.avail.List()
	for i := range techs {
		if pos, ok := s.index.Position(techs[i].ID); ok {
			techs[i].Position = &pos
		}
	}
	return techs
}

// SetTechnicianStatus applies a manual disponible/hors_service toggle.
func (s *Service) SetTechnicianStatus(technicianID string, status model.Disponibilite) error {
	return s.avail.SetStatus(technicianID, status)
}

// UpdatePosition records a technician's location.
func (s *Service) UpdatePosition(technicianID string, lat, lng float64) error {
	if _, err := s.avail.Get(technicianID); err != nil {
		return err
	}
	if err := s.index.UpsertPosition(technicianID, lat, lng); err != nil {
		return err
	}
	if pos, ok := s.index.Position(technicianID); ok {
		s.pub.Publish(events.PositionUpdated{TechnicianID: technicianID, Position: pos.Point, At: pos.UpdatedAt})
	}
	return nil
}

// FleetStatus counts technicians per disponibilite.
func (s *Service) FleetStatus() map[model.Disponibilite]int {
	out := map[model.Disponibilite]int{model.Disponible: 0, model.Occupe: 0, model.HorsService: 0}
	for _, t := range s.avail.List() {
		out[t.Disponibilite]++
	}
	return out
}

// DispatchStats summarizes the demandes being searched.
func (s *Service) DispatchStats() dispatch.Stats { return s.engine.Stats() }
