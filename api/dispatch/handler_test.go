package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/core/audit"
	coredispatch "github.com/kilianp07/depannage/core/dispatch"
	"github.com/kilianp07/depannage/core/model"
)

type staticStats coredispatch.Stats

func (s staticStats) DispatchStats() coredispatch.Stats { return coredispatch.Stats(s) }

func TestTransitionsHandlerFilters(t *testing.T) {
	store := audit.NewMemoryStore()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Record{Timestamp: base, DemandeID: "d1", Event: "accept", From: model.StatusEnAttente, To: model.StatusAcceptee, TechnicianID: "t1"}))
	require.NoError(t, store.Append(ctx, audit.Record{Timestamp: base.Add(time.Hour), DemandeID: "d2", Event: "cancel", From: model.StatusEnAttente, To: model.StatusAnnulee}))

	h := NewTransitionsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/dispatch/transitions?demande_id=d1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []audit.Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "t1", recs[0].TechnicianID)

	req = httptest.NewRequest(http.MethodGet, "/api/dispatch/transitions?start="+base.Add(30*time.Minute).Format(time.RFC3339), nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "d2", recs[0].DemandeID)

	req = httptest.NewRequest(http.MethodGet, "/api/dispatch/transitions?technician_id=nobody", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestStatsHandler(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux, audit.NopStore{}, staticStats{Searching: 3, WithoutCandidates: 1, MeanCandidates: 2.5})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/dispatch/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s coredispatch.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, 3, s.Searching)
	assert.Equal(t, 2.5, s.MeanCandidates)

	post, err := http.Post(srv.URL+"/api/dispatch/stats", "application/json", nil)
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
