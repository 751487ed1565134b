// Package techniciens exposes technician registration, availability,
// positions and the polled list of nearby demandes.
package techniciens

import (
	"fmt"
	"net/http"

	"github.com/kilianp07/depannage/api"
	"github.com/kilianp07/depannage/core/model"
)

// Service is the subset of app.Service used by the handlers.
type Service interface {
	RegisterTechnician(t model.Technician) (model.Technician, error)
	Technician(id string) (model.Technician, error)
	Technicians() []model.Technician
	SetTechnicianStatus(technicianID string, status model.Disponibilite) error
	UpdatePosition(technicianID string, lat, lng float64) error
	NearbyDemandes(technicianID string) ([]model.Offer, error)
}

type statusRequest struct {
	Disponibilite model.Disponibilite `json:"disponibilite"`
}

type positionRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Register mounts the technician routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.HandleFunc("POST /api/techniciens", func(w http.ResponseWriter, r *http.Request) {
		var t model.Technician
		if err := api.Decode(r, &t); err != nil {
			api.WriteError(w, r, err)
			return
		}
		out, err := svc.RegisterTechnician(t)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, out)
	})

	mux.HandleFunc("GET /api/techniciens", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, svc.Technicians())
	})

	mux.HandleFunc("GET /api/techniciens/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.Technician(r.PathValue("id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("GET /api/techniciens/{id}/demandes", func(w http.ResponseWriter, r *http.Request) {
		offers, err := svc.NearbyDemandes(r.PathValue("id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, offers)
	})

	mux.HandleFunc("POST /api/techniciens/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, r, err)
			return
		}
		if _, ok := model.ParseDisponibilite(string(req.Disponibilite)); !ok {
			api.WriteError(w, r, fmt.Errorf("%w: unknown disponibilite %q", model.ErrValidation, req.Disponibilite))
			return
		}
		id := r.PathValue("id")
		if err := svc.SetTechnicianStatus(id, req.Disponibilite); err != nil {
			api.WriteError(w, r, err)
			return
		}
		t, err := svc.Technician(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("POST /api/techniciens/{id}/position", func(w http.ResponseWriter, r *http.Request) {
		var req positionRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, r, err)
			return
		}
		if err := svc.UpdatePosition(r.PathValue("id"), req.Lat, req.Lng); err != nil {
			api.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
