// Package demandes exposes the demande lifecycle over HTTP.
package demandes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kilianp07/depannage/api"
	"github.com/kilianp07/depannage/core/assignment"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/model"
)

// Service is the subset of app.Service used by the handlers.
type Service interface {
	CreateDemande(ctx context.Context, in model.NewDemande) (model.Demande, error)
	GetDemande(ctx context.Context, id string) (model.DemandeView, error)
	ListDemandes(ctx context.Context, f demande.Filter) ([]model.Demande, error)
	Accept(ctx context.Context, demandeID, technicianID string) (assignment.Result, error)
	Refuse(ctx context.Context, demandeID, technicianID string) error
	Start(ctx context.Context, demandeID, technicianID string) (model.Demande, error)
	Complete(ctx context.Context, demandeID, technicianID string, cost *float64) (model.Demande, error)
	Cancel(ctx context.Context, demandeID string, actor model.Actor, ifStatus model.DemandeStatus) (model.Demande, error)
}

type createRequest struct {
	ClientID    string            `json:"client_id"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	VehicleType model.VehicleType `json:"vehicle_type"`
	TypePanne   string            `json:"type_panne"`
	Description string            `json:"description"`
}

type technicianRequest struct {
	TechnicianID string   `json:"technician_id"`
	Cost         *float64 `json:"cost,omitempty"`
}

// cancelRequest.IfStatus, when set, only cancels a demande still in that
// status.
type cancelRequest struct {
	Actor    model.Actor `json:"actor"`
	IfStatus string      `json:"if_status,omitempty"`
}

// Register mounts the demande routes on mux.
func Register(mux *http.ServeMux, svc Service) {
	mux.HandleFunc("POST /api/demandes", func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, r, err)
			return
		}
		d, err := svc.CreateDemande(r.Context(), model.NewDemande{
			ClientID:    req.ClientID,
			Pickup:      model.Point{Lat: req.Lat, Lng: req.Lng},
			VehicleType: req.VehicleType,
			TypePanne:   req.TypePanne,
			Description: req.Description,
		})
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, d)
	})

	mux.HandleFunc("GET /api/demandes", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := demande.Filter{ClientID: q.Get("client_id"), TechnicianID: q.Get("technician_id")}
		for _, raw := range q["status"] {
			s, ok := model.ParseDemandeStatus(raw)
			if !ok {
				api.WriteError(w, r, fmt.Errorf("%w: unknown status %q", model.ErrValidation, raw))
				return
			}
			f.Statuses = append(f.Statuses, s)
		}
		list, err := svc.ListDemandes(r.Context(), f)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/demandes/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.GetDemande(r.Context(), r.PathValue("id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("POST /api/demandes/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		req, ok := technician(w, r)
		if !ok {
			return
		}
		res, err := svc.Accept(r.Context(), r.PathValue("id"), req.TechnicianID)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("POST /api/demandes/{id}/refuse", func(w http.ResponseWriter, r *http.Request) {
		req, ok := technician(w, r)
		if !ok {
			return
		}
		if err := svc.Refuse(r.Context(), r.PathValue("id"), req.TechnicianID); err != nil {
			api.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/demandes/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		req, ok := technician(w, r)
		if !ok {
			return
		}
		d, err := svc.Start(r.Context(), r.PathValue("id"), req.TechnicianID)
		respond(w, r, d, err)
	})

	mux.HandleFunc("POST /api/demandes/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		req, ok := technician(w, r)
		if !ok {
			return
		}
		d, err := svc.Complete(r.Context(), r.PathValue("id"), req.TechnicianID, req.Cost)
		respond(w, r, d, err)
	})

	mux.HandleFunc("POST /api/demandes/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := api.Decode(r, &req); err != nil {
			api.WriteError(w, r, err)
			return
		}
		if req.Actor.Kind == model.ActorSystem {
			api.WriteError(w, r, fmt.Errorf("%w: system cancellations are internal", model.ErrForbidden))
			return
		}
		var ifStatus model.DemandeStatus
		if req.IfStatus != "" {
			s, ok := model.ParseDemandeStatus(req.IfStatus)
			if !ok {
				api.WriteError(w, r, fmt.Errorf("%w: unknown status %q", model.ErrValidation, req.IfStatus))
				return
			}
			ifStatus = s
		}
		d, err := svc.Cancel(r.Context(), r.PathValue("id"), req.Actor, ifStatus)
		respond(w, r, d, err)
	})
}

func technician(w http.ResponseWriter, r *http.Request) (technicianRequest, bool) {
	var req technicianRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, err)
		return req, false
	}
	if req.TechnicianID == "" {
		api.WriteError(w, r, fmt.Errorf("%w: technician_id is required", model.ErrValidation))
		return req, false
	}
	return req, true
}

func respond(w http.ResponseWriter, r *http.Request, d model.Demande, err error) {
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, d)
}
