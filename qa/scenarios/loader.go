// Package scenarios replays YAML dispatch scenarios against an in-memory
// service. The simulate command and the scenario regression tests share it.
package scenarios

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/depannage/core/model"
)

type TechnicianDef struct {
	ID       string              `yaml:"id"`
	Name     string              `yaml:"name,omitempty"`
	Rating   float64             `yaml:"rating"`
	Vehicles []model.VehicleType `yaml:"vehicles"`
	Lat      *float64            `yaml:"lat,omitempty"`
	Lng      *float64            `yaml:"lng,omitempty"`
	Status   model.Disponibilite `yaml:"status,omitempty"`
}

func (d TechnicianDef) ToModel() model.Technician {
	t := model.Technician{
		ID:                  d.ID,
		Name:                d.Name,
		Rating:              d.Rating,
		VehicleCapabilities: d.Vehicles,
		Disponibilite:       d.Status,
	}
	if d.Lat != nil && d.Lng != nil {
		t.Position = &model.Position{Point: model.Point{Lat: *d.Lat, Lng: *d.Lng}}
	}
	return t
}

// Step is one operation. Demande is the reference given at creation, not
// the generated id. IfStatus guards a cancel: it only applies while the
// demande is still in that status.
type Step struct {
	Op         string              `yaml:"op"`
	Demande    string              `yaml:"demande,omitempty"`
	Technician string              `yaml:"technician,omitempty"`
	Client     string              `yaml:"client,omitempty"`
	Lat        float64             `yaml:"lat,omitempty"`
	Lng        float64             `yaml:"lng,omitempty"`
	Vehicle    model.VehicleType   `yaml:"vehicle,omitempty"`
	Panne      string              `yaml:"panne,omitempty"`
	Cost       *float64            `yaml:"cost,omitempty"`
	Actor      model.ActorKind     `yaml:"actor,omitempty"`
	Status     model.Disponibilite `yaml:"status,omitempty"`
	IfStatus   model.DemandeStatus `yaml:"if_status,omitempty"`
}

// Expected is checked against the Report of a replay by Check.
type Expected struct {
	Won      int                            `yaml:"won"`
	Lost     int                            `yaml:"lost"`
	Errors   int                            `yaml:"errors"`
	Statuses map[string]model.DemandeStatus `yaml:"statuses,omitempty"`
	Fleet    map[string]model.Disponibilite `yaml:"fleet,omitempty"`
}

type Scenario struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Technicians []TechnicianDef `yaml:"technicians"`
	Steps       []Step          `yaml:"steps"`
	Expected    *Expected       `yaml:"expected,omitempty"`
}

// Load reads a scenario file. Unknown keys are rejected so a typo does not
// silently skip a step field.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	return &sc, nil
}
