// Package dispatch exposes operational views: the transition journal and
// the current dispatch statistics.
package dispatch

import (
	"net/http"
	"time"

	"github.com/kilianp07/depannage/api"
	"github.com/kilianp07/depannage/core/audit"
	coredispatch "github.com/kilianp07/depannage/core/dispatch"
)

// StatsProvider returns a dispatch snapshot.
type StatsProvider interface {
	DispatchStats() coredispatch.Stats
}

// NewTransitionsHandler serves GET /api/dispatch/transitions with optional
// start, end (RFC3339), demande_id and technician_id filters.
func NewTransitionsHandler(store audit.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := audit.Query{
			DemandeID:    r.URL.Query().Get("demande_id"),
			TechnicianID: r.URL.Query().Get("technician_id"),
		}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if records == nil {
			records = []audit.Record{}
		}
		api.WriteJSON(w, http.StatusOK, records)
	})
}

// NewStatsHandler serves GET /api/dispatch/stats.
func NewStatsHandler(p StatsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, p.DispatchStats())
	})
}

// Register mounts both handlers on mux.
func Register(mux *http.ServeMux, store audit.Store, p StatsProvider) {
	mux.Handle("GET /api/dispatch/transitions", NewTransitionsHandler(store))
	mux.Handle("GET /api/dispatch/stats", NewStatsHandler(p))
}
