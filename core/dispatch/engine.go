// Package dispatch finds candidate technicians for demandes en_attente. It
// widens the search radius until enough eligible technicians are found,
// ranks them and keeps the resulting candidate sets as a read view for
// polling technicians. It never assigns anyone.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/geo"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/metrics"
	"github.com/kilianp07/depannage/core/model"
)

// Demandes is the state machine surface used by the engine.
type Demandes interface {
	Get(ctx context.Context, id string) (model.Demande, error)
	List(ctx context.Context, f demande.Filter) ([]model.Demande, error)
	Apply(ctx context.Context, cmd demande.Command) (demande.Outcome, error)
}

// Availability answers eligibility questions.
type Availability interface {
	CanReceiveDemande(id string, vt model.VehicleType) bool
	Get(id string) (model.Technician, error)
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Demandes     Demandes
	Index        geo.Index
	Availability Availability
	Publisher    events.Publisher
	Sink         metrics.MetricsSink
	Logger       logger.Logger
	// SpeedKmh is the average speed used for ETAs.
	SpeedKmh float64
}

type view struct {
	demande  model.Demande
	set      model.CandidateSet
	refused  map[string]struct{}
	attempts int
	lastPass time.Time
}

// Engine is the DispatchEngine.
type Engine struct {
	cfg      Config
	speedKmh float64
	demandes Demandes
	index    geo.Index
	avail    Availability
	pub      events.Publisher
	sink     metrics.MetricsSink
	log      logger.Logger
	now      func() time.Time

	mu    sync.RWMutex
	views map[string]*view
}

// NewEngine creates a dispatch engine. cfg is defaulted and validated.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Demandes == nil || deps.Index == nil || deps.Availability == nil {
		return nil, fmt.Errorf("dispatch: nil dependency provided to NewEngine")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	if deps.SpeedKmh <= 0 {
		deps.SpeedKmh = geo.DefaultSpeedKmh
	}
	return &Engine{
		cfg:      cfg,
		speedKmh: deps.SpeedKmh,
		demandes: deps.Demandes,
		index:    deps.Index,
		avail:    deps.Availability,
		pub:      deps.Publisher,
		sink:     deps.Sink,
		log:      logger.OrNop(deps.Logger),
		now:      time.Now,
		views:    make(map[string]*view),
	}, nil
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Dispatch runs the first candidate search for a demande.
func (e *Engine) Dispatch(ctx context.Context, demandeID string) (model.CandidateSet, error) {
	return e.run(ctx, demandeID, metrics.TriggerInitial, false)
}

// Redispatch reruns the search with the starting radius widened by one step
// per previous attempt.
func (e *Engine) Redispatch(ctx context.Context, demandeID string) (model.CandidateSet, error) {
	return e.run(ctx, demandeID, metrics.TriggerRedispatch, true)
}

func (e *Engine) run(ctx context.Context, demandeID, trigger string, bump bool) (model.CandidateSet, error) {
	d, err := e.demandes.Get(ctx, demandeID)
	if err != nil {
		return model.CandidateSet{}, err
	}
	if d.Status != model.StatusEnAttente {
		e.Forget(demandeID)
		return model.CandidateSet{}, fmt.Errorf("%w: demande %s is %s", model.ErrInvalidTransition, demandeID, d.Status)
	}

	e.mu.Lock()
	v := e.viewFor(d)
	if bump {
		v.attempts++
	}
	attempt := v.attempts
	refused := make(map[string]struct{}, len(v.refused))
	for id := range v.refused {
		refused[id] = struct{}{}
	}
	e.mu.Unlock()

	start := e.now()
	cands, radius, expansions := e.search(d, attempt, refused)
	set := model.CandidateSet{DemandeID: d.ID, RadiusKm: radius, Candidates: cands, GeneratedAt: start.UTC()}

	e.mu.Lock()
	if cur, ok := e.views[d.ID]; ok {
		set.Candidates = dropRefused(set.Candidates, cur.refused)
		cur.set = set
		cur.lastPass = start
	}
	e.mu.Unlock()

	if status, resolved := e.resolvedSince(ctx, d.ID); resolved {
		return model.CandidateSet{}, fmt.Errorf("%w: demande %s is %s", model.ErrInvalidTransition, demandeID, status)
	}
	e.observe(d, set, trigger, attempt, expansions, start)
	e.pub.Publish(events.CandidatesUpdated{Set: cloneSet(set), Attempt: attempt})
	return cloneSet(set), nil
}

// search widens the radius from the attempt's starting point until
// MinCandidates eligible technicians are found or MaxRadiusKm is reached.
func (e *Engine) search(d model.Demande, attempt int, refused map[string]struct{}) ([]model.Candidate, float64, int) {
	radius := math.Min(e.cfg.InitialRadiusKm+float64(attempt)*e.cfg.RadiusStepKm, e.cfg.MaxRadiusKm)
	expansions := 0
	for {
		cands := e.collect(d, radius, refused)
		if len(cands) >= e.cfg.MinCandidates || radius >= e.cfg.MaxRadiusKm {
			model.Rank(cands)
			return cands, radius, expansions
		}
		radius = math.Min(radius+e.cfg.RadiusStepKm, e.cfg.MaxRadiusKm)
		expansions++
	}
}

func (e *Engine) collect(d model.Demande, radius float64, refused map[string]struct{}) []model.Candidate {
	hits := e.index.Nearby(d.Pickup, radius, d.VehicleType)
	out := make([]model.Candidate, 0, len(hits))
	for _, h := range hits {
		if _, ok := refused[h.TechnicianID]; ok {
			continue
		}
		if !e.avail.CanReceiveDemande(h.TechnicianID, d.VehicleType) {
			continue
		}
		tech, err := e.avail.Get(h.TechnicianID)
		if err != nil {
			continue
		}
		out = append(out, model.Candidate{
			TechnicianID: h.TechnicianID,
			DistanceKm:   h.DistanceKm,
			ETAMinutes:   geo.ETAMinutes(h.DistanceKm, e.speedKmh),
			Rating:       tech.Rating,
		})
	}
	return out
}

func (e *Engine) observe(d model.Demande, set model.CandidateSet, trigger string, attempt, expansions int, start time.Time) {
	dispatchPasses.WithLabelValues(trigger).Inc()
	radiusExpansions.Add(float64(expansions))
	candidatesFound.Observe(float64(len(set.Candidates)))

	ev := metrics.DispatchPassEvent{
		DemandeID:   d.ID,
		VehicleType: d.VehicleType,
		Trigger:     trigger,
		Attempt:     attempt,
		RadiusKm:    set.RadiusKm,
		Candidates:  len(set.Candidates),
		Duration:    e.now().Sub(start),
		Time:        start,
	}
	var std float64
	if len(set.Candidates) > 0 {
		dists := make([]float64, len(set.Candidates))
		ev.NearestKm = math.Inf(1)
		for i, c := range set.Candidates {
			dists[i] = c.DistanceKm
			ev.NearestKm = math.Min(ev.NearestKm, c.DistanceKm)
		}
		ev.MeanKm, std = stat.MeanStdDev(dists, nil)
		if math.IsNaN(std) {
			std = 0
		}
	} else {
		emptyResults.Inc()
	}
	if err := e.sink.RecordDispatchPass(ev); err != nil {
		e.log.Errorf("dispatch metrics error: %v", err)
	}
	e.log.Infow("dispatch pass", map[string]any{
		"demande_id": d.ID, "trigger": trigger, "attempt": attempt, "radius_km": set.RadiusKm,
		"candidates": len(set.Candidates), "nearest_km": model.RoundKm(ev.NearestKm),
		"mean_km": model.RoundKm(ev.MeanKm), "stddev_km": model.RoundKm(std),
	})
}

// Refuse removes the technician from the demande's candidate pool. Refusing
// twice is a no-op. When the last listed candidate refuses, the demande is
// re-dispatched with a wider radius.
func (e *Engine) Refuse(ctx context.Context, demandeID, technicianID string) error {
	d, err := e.demandes.Get(ctx, demandeID)
	if err != nil {
		return err
	}
	if d.Status != model.StatusEnAttente {
		return nil
	}
	e.mu.Lock()
	v := e.viewFor(d)
	if _, done := v.refused[technicianID]; done {
		e.mu.Unlock()
		return nil
	}
	v.refused[technicianID] = struct{}{}
	had := len(v.set.Candidates) > 0
	v.set.Candidates = dropRefused(v.set.Candidates, v.refused)
	exhausted := had && len(v.set.Candidates) == 0
	e.mu.Unlock()

	if _, resolved := e.resolvedSince(ctx, demandeID); resolved {
		return nil
	}
	e.log.Debugf("technician %s refused demande %s", technicianID, demandeID)
	if !exhausted {
		return nil
	}
	_, err = e.run(ctx, demandeID, metrics.TriggerRefusal, true)
	if errors.Is(err, model.ErrInvalidTransition) {
		return nil
	}
	return err
}

// NearbyFor returns the offers currently listing the technician, nearest
// first. Technicians that cannot take a demande right now see nothing.
func (e *Engine) NearbyFor(technicianID string) []model.Offer {
	e.mu.RLock()
	offers := make([]model.Offer, 0)
	for _, v := range e.views {
		if _, ok := v.refused[technicianID]; ok {
			continue
		}
		c, ok := v.set.Contains(technicianID)
		if !ok || !e.avail.CanReceiveDemande(technicianID, v.demande.VehicleType) {
			continue
		}
		offers = append(offers, model.Offer{
			DemandeID:   v.demande.ID,
			VehicleType: v.demande.VehicleType,
			TypePanne:   v.demande.TypePanne,
			Description: v.demande.Description,
			Pickup:      v.demande.Pickup,
			DistanceKm:  model.RoundKm(c.DistanceKm),
			ETAMinutes:  c.ETAMinutes,
			CreatedAt:   v.demande.CreatedAt,
		})
	}
	e.mu.RUnlock()
	sort.Slice(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		if a.ETAMinutes != b.ETAMinutes {
			return a.ETAMinutes < b.ETAMinutes
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.DemandeID < b.DemandeID
	})
	return offers
}

// Estimate returns the technician's distance and ETA to d, from the cached
// candidate set when listed there, otherwise from its indexed position.
func (e *Engine) Estimate(d model.Demande, technicianID string) (model.Candidate, bool) {
	e.mu.RLock()
	if v, ok := e.views[d.ID]; ok {
		if c, ok := v.set.Contains(technicianID); ok {
			e.mu.RUnlock()
			return c, true
		}
	}
	e.mu.RUnlock()
	pos, ok := e.index.Position(technicianID)
	if !ok {
		return model.Candidate{}, false
	}
	dist := geo.Distance(pos.Point, d.Pickup)
	c := model.Candidate{TechnicianID: technicianID, DistanceKm: dist, ETAMinutes: geo.ETAMinutes(dist, e.speedKmh)}
	if tech, err := e.avail.Get(technicianID); err == nil {
		c.Rating = tech.Rating
	}
	return c, true
}

// Candidates returns the cached set of a demande still being dispatched.
func (e *Engine) Candidates(demandeID string) (model.CandidateSet, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.views[demandeID]
	if !ok {
		return model.CandidateSet{}, false
	}
	return cloneSet(v.set), true
}

// Refused reports whether the technician refused the demande while it was
// being dispatched.
func (e *Engine) Refused(demandeID, technicianID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.views[demandeID]
	if !ok {
		return false
	}
	_, refused := v.refused[technicianID]
	return refused
}

// Forget drops the view of a demande that left en_attente.
func (e *Engine) Forget(demandeID string) {
	e.mu.Lock()
	delete(e.views, demandeID)
	e.mu.Unlock()
}

// resolvedSince re-reads a demande after its view was written and drops the
// view when the demande left en_attente meanwhile. An accept forgets the view
// only after committing, so either its Forget runs after the write or the
// commit is visible here.
func (e *Engine) resolvedSince(ctx context.Context, demandeID string) (model.DemandeStatus, bool) {
	d, err := e.demandes.Get(ctx, demandeID)
	if err != nil || d.Status == model.StatusEnAttente {
		return "", false
	}
	e.Forget(demandeID)
	return d.Status, true
}

// viewFor returns the view of d, creating it. Callers hold e.mu.
func (e *Engine) viewFor(d model.Demande) *view {
	v, ok := e.views[d.ID]
	if !ok {
		v = &view{demande: d.Clone(), refused: map[string]struct{}{}, lastPass: d.CreatedAt}
		v.set = model.CandidateSet{DemandeID: d.ID}
		e.views[d.ID] = v
	}
	return v
}

func dropRefused(cands []model.Candidate, refused map[string]struct{}) []model.Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if _, ok := refused[c.TechnicianID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func cloneSet(s model.CandidateSet) model.CandidateSet {
	s.Candidates = append([]model.Candidate(nil), s.Candidates...)
	return s
}
