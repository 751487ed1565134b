package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Disponibilite is a technician's availability status.
type Disponibilite string

const (
	Disponible  Disponibilite = "disponible"
	Occupe      Disponibilite = "occupe"
	HorsService Disponibilite = "hors_service"
)

// ParseDisponibilite converts a raw status.
func ParseDisponibilite(s string) (Disponibilite, bool) {
	switch Disponibilite(strings.ToLower(s)) {
	case Disponible:
		return Disponible, true
	case Occupe:
		return Occupe, true
	case HorsService:
		return HorsService, true
	default:
		return "", false
	}
}

// VehicleType is the kind of vehicle a demande concerns.
type VehicleType string

const (
	VehicleVoiture    VehicleType = "voiture"
	VehicleMoto       VehicleType = "moto"
	VehicleCamion     VehicleType = "camion"
	VehicleUtilitaire VehicleType = "utilitaire"
)

// ParseVehicleType converts a raw vehicle type.
func ParseVehicleType(s string) (VehicleType, bool) {
	switch VehicleType(strings.ToLower(s)) {
	case VehicleVoiture:
		return VehicleVoiture, true
	case VehicleMoto:
		return VehicleMoto, true
	case VehicleCamion:
		return VehicleCamion, true
	case VehicleUtilitaire:
		return VehicleUtilitaire, true
	default:
		return "", false
	}
}

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates outside the WGS84 range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinates, p.Lat, p.Lng)
	}
	return nil
}

// Position is a technician location with its reporting time.
type Position struct {
	Point
	UpdatedAt time.Time `json:"updated_at"`
}

// Technician is a field service provider (dépanneur).
type Technician struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name,omitempty"`
	Position            *Position     `json:"position,omitempty"`
	Disponibilite       Disponibilite `json:"disponibilite"`
	VehicleCapabilities []VehicleType `json:"vehicle_capabilities"`
	Rating              float64       `json:"rating"`
}

// Serves reports whether the technician handles the vehicle type.
func (t Technician) Serves(vt VehicleType) bool {
	for _, c := range t.VehicleCapabilities {
		if c == vt {
			return true
		}
	}
	return false
}

// Validate checks mandatory fields.
func (t Technician) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: technician id is required", ErrValidation)
	}
	if t.Rating < 0 || t.Rating > 5 {
		return fmt.Errorf("%w: rating must be within [0,5]", ErrValidation)
	}
	if t.Disponibilite != "" {
		if _, ok := ParseDisponibilite(string(t.Disponibilite)); !ok {
			return fmt.Errorf("%w: unknown disponibilite %q", ErrValidation, t.Disponibilite)
		}
	}
	for _, c := range t.VehicleCapabilities {
		if _, ok := ParseVehicleType(string(c)); !ok {
			return fmt.Errorf("%w: unknown vehicle type %q", ErrValidation, c)
		}
	}
	return nil
}

// Normalize validates t and returns a copy with its disponibilite and
// capabilities in canonical form. Duplicate capabilities are dropped.
func (t Technician) Normalize() (Technician, error) {
	if err := t.Validate(); err != nil {
		return Technician{}, err
	}
	if t.Disponibilite != "" {
		t.Disponibilite, _ = ParseDisponibilite(string(t.Disponibilite))
	}
	caps := make([]VehicleType, 0, len(t.VehicleCapabilities))
	seen := make(map[VehicleType]struct{}, len(t.VehicleCapabilities))
	for _, c := range t.VehicleCapabilities {
		vt, _ := ParseVehicleType(string(c))
		if _, dup := seen[vt]; dup {
			continue
		}
		seen[vt] = struct{}{}
		caps = append(caps, vt)
	}
	t.VehicleCapabilities = caps
	return t, nil
}

// Candidate is a ranked technician for a demande.
type Candidate struct {
	TechnicianID string  `json:"technician_id"`
	DistanceKm   float64 `json:"distance_km"`
	ETAMinutes   int     `json:"eta_minutes"`
	Rating       float64 `json:"rating"`
}

// CandidateSet is the ranked view of eligible technicians for one demande.
type CandidateSet struct {
	DemandeID   string      `json:"demande_id"`
	RadiusKm    float64     `json:"radius_km"`
	Candidates  []Candidate `json:"candidates"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Empty reports whether nobody was found.
func (c CandidateSet) Empty() bool { return len(c.Candidates) == 0 }

// Contains reports whether the technician is listed.
func (c CandidateSet) Contains(id string) (Candidate, bool) {
	for _, cand := range c.Candidates {
		if cand.TechnicianID == id {
			return cand, true
		}
	}
	return Candidate{}, false
}

// Rank sorts candidates by ETA ascending, rating descending then id ascending.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.ETAMinutes != b.ETAMinutes {
			return a.ETAMinutes < b.ETAMinutes
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.TechnicianID < b.TechnicianID
	})
}

// Offer is a demande as shown to one polling technician.
type Offer struct {
	DemandeID   string      `json:"demande_id"`
	VehicleType VehicleType `json:"vehicle_type"`
	TypePanne   string      `json:"type_panne"`
	Description string      `json:"description,omitempty"`
	Pickup      Point       `json:"pickup"`
	DistanceKm  float64     `json:"distance_km"`
	ETAMinutes  int         `json:"eta_minutes"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AssignmentClaim is a technician attempting to accept a demande.
type AssignmentClaim struct {
	DemandeID    string
	TechnicianID string
	At           time.Time
}

// RoundKm rounds a distance to one decimal for display.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}
