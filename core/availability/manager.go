// Package availability owns the disponibilite of every technician and the
// rule that only disponible technicians receive new demandes.
package availability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/model"
)

type record struct {
	tech   model.Technician
	active string // demande currently held, empty when none
}

// Manager tracks technician availability. occupe is entered only through
// MarkBusy (assignment) and left only through Release (demande terminee or
// annulee); disponible and hors_service are toggled manually.
type Manager struct {
	mu    sync.RWMutex
	techs map[string]*record
	pub   events.Publisher
	log   logger.Logger
	now   func() time.Time
}

// NewManager creates an empty manager.
func NewManager(pub events.Publisher, log logger.Logger) *Manager {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Manager{techs: make(map[string]*record), pub: pub, log: logger.OrNop(log), now: time.Now}
}

// Register adds a technician or refreshes its profile. The disponibilite of a
// known technician is kept; a new one starts disponible unless hors_service
// is requested.
func (m *Manager) Register(t model.Technician) (model.Technician, error) {
	t, err := t.Normalize()
	if err != nil {
		return model.Technician{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.techs[t.ID]; ok {
		r.tech.Name = t.Name
		r.tech.Rating = t.Rating
		r.tech.VehicleCapabilities = append([]model.VehicleType(nil), t.VehicleCapabilities...)
		return cloneTech(r.tech), nil
	}
	switch t.Disponibilite {
	case "":
		t.Disponibilite = model.Disponible
	case model.Occupe:
		return model.Technician{}, fmt.Errorf("%w: technician %s cannot register as occupe", model.ErrInvalidTransition, t.ID)
	}
	t.VehicleCapabilities = append([]model.VehicleType(nil), t.VehicleCapabilities...)
	m.techs[t.ID] = &record{tech: t}
	return cloneTech(t), nil
}

// Get returns a technician snapshot.
func (m *Manager) Get(id string) (model.Technician, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.techs[id]
	if !ok {
		return model.Technician{}, fmt.Errorf("technician %s: %w", id, model.ErrNotFound)
	}
	return cloneTech(r.tech), nil
}

// List returns all technicians ordered by id.
func (m *Manager) List() []model.Technician {
	m.mu.RLock()
	out := make([]model.Technician, 0, len(m.techs))
	for _, r := range m.techs {
		out = append(out, cloneTech(r.tech))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus applies a manual disponible/hors_service toggle. It is rejected
// while the technician holds an active assignment, and occupe can never be
// requested directly. Setting the current status again is a no-op.
func (m *Manager) SetStatus(id string, raw model.Disponibilite) error {
	status, ok := model.ParseDisponibilite(string(raw))
	if !ok {
		return fmt.Errorf("%w: unknown disponibilite %q", model.ErrValidation, raw)
	}
	m.mu.Lock()
	r, ok := m.techs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("technician %s: %w", id, model.ErrNotFound)
	}
	from := r.tech.Disponibilite
	switch {
	case status == model.Occupe && r.active == "":
		m.mu.Unlock()
		return fmt.Errorf("%w: occupe is only set by an assignment", model.ErrInvalidTransition)
	case from == status:
		m.mu.Unlock()
		return nil
	case r.active != "" || from == model.Occupe:
		m.mu.Unlock()
		return fmt.Errorf("%w: technician %s holds demande %s", model.ErrInvalidTransition, id, r.active)
	}
	r.tech.Disponibilite = status
	m.mu.Unlock()
	m.emit(id, from, status, "")
	return nil
}

// CanReceiveDemande is true only for a disponible technician serving vt.
func (m *Manager) CanReceiveDemande(id string, vt model.VehicleType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.techs[id]
	if !ok {
		return false
	}
	return r.tech.Disponibilite == model.Disponible && r.active == "" && r.tech.Serves(vt)
}

// MarkBusy flips a disponible technician to occupe for demandeID. Calling it
// again for the same demande is a no-op.
func (m *Manager) MarkBusy(id, demandeID string) error {
	m.mu.Lock()
	r, ok := m.techs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("technician %s: %w", id, model.ErrNotFound)
	}
	if r.active == demandeID && r.tech.Disponibilite == model.Occupe {
		m.mu.Unlock()
		return nil
	}
	if r.tech.Disponibilite != model.Disponible || r.active != "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: technician %s is %s", model.ErrNotEligible, id, r.tech.Disponibilite)
	}
	from := r.tech.Disponibilite
	r.tech.Disponibilite = model.Occupe
	r.active = demandeID
	m.mu.Unlock()
	m.emit(id, from, model.Occupe, demandeID)
	return nil
}

// Release returns the technician holding demandeID to disponible. Releasing
// a technician that no longer holds the demande is a no-op.
func (m *Manager) Release(id, demandeID string) error {
	m.mu.Lock()
	r, ok := m.techs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("technician %s: %w", id, model.ErrNotFound)
	}
	if r.active != demandeID {
		m.mu.Unlock()
		m.log.Debugf("release of %s for %s ignored, holds %q", id, demandeID, r.active)
		return nil
	}
	from := r.tech.Disponibilite
	r.tech.Disponibilite = model.Disponible
	r.active = ""
	m.mu.Unlock()
	m.emit(id, from, model.Disponible, demandeID)
	return nil
}

// ActiveDemande returns the demande held by the technician, if any.
func (m *Manager) ActiveDemande(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.techs[id]; ok {
		return r.active
	}
	return ""
}

func (m *Manager) emit(id string, from, to model.Disponibilite, demandeID string) {
	m.log.Infow("disponibilite changed", map[string]any{
		"technician_id": id, "from": string(from), "to": string(to), "demande_id": demandeID,
	})
	m.pub.Publish(events.AvailabilityChanged{TechnicianID: id, From: from, To: to, DemandeID: demandeID, At: m.now()})
}

func cloneTech(t model.Technician) model.Technician {
	t.VehicleCapabilities = append([]model.VehicleType(nil), t.VehicleCapabilities...)
	if t.Position != nil {
		p := *t.Position
		t.Position = &p
	}
	return t
}
