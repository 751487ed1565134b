package demandes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/api/demandes"
	"github.com/kilianp07/depannage/app"
	"github.com/kilianp07/depannage/core/assignment"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
)

func setup(t *testing.T) (*app.Service, *httptest.Server) {
	t.Helper()
	svc, err := app.NewService(app.Components{Store: demande.NewMemoryStore(), Logger: logger.NopLogger{}})
	require.NoError(t, err)
	for _, id := range []string{"t1", "t2"} {
		_, err := svc.RegisterTechnician(model.Technician{
			ID: id, Rating: 4, VehicleCapabilities: []model.VehicleType{model.VehicleVoiture},
			Position: &model.Position{Point: model.Point{Lat: 6.38, Lng: 2.39}},
		})
		require.NoError(t, err)
	}
	mux := http.NewServeMux()
	demandes.Register(mux, svc)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return svc, srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func createDemande(t *testing.T, srv *httptest.Server) model.Demande {
	t.Helper()
	resp := post(t, srv.URL+"/api/demandes", map[string]any{
		"client_id": "c1", "lat": 6.37, "lng": 2.39, "vehicle_type": "voiture", "type_panne": "batterie",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d model.Demande
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	return d
}

func TestCreateAndGet(t *testing.T) {
	_, srv := setup(t)
	d := createDemande(t, srv)
	assert.Equal(t, model.StatusEnAttente, d.Status)

	resp, err := http.Get(srv.URL + "/api/demandes/" + d.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v model.DemandeView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.True(t, v.Searching)
	assert.Equal(t, 2, v.CandidateCount)

	missing, err := http.Get(srv.URL + "/api/demandes/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCreateValidation(t *testing.T) {
	_, srv := setup(t)
	resp := post(t, srv.URL+"/api/demandes", map[string]any{
		"client_id": "c1", "lat": 95, "lng": 2.39, "vehicle_type": "voiture", "type_panne": "batterie",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = post(t, srv.URL+"/api/demandes", map[string]any{"client_id": "c1", "unknown": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcceptLoserGetsWonFalse(t *testing.T) {
	_, srv := setup(t)
	d := createDemande(t, srv)

	resp := post(t, srv.URL+"/api/demandes/"+d.ID+"/accept", map[string]string{"technician_id": "t1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res assignment.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Won)

	resp = post(t, srv.URL+"/api/demandes/"+d.ID+"/accept", map[string]string{"technician_id": "t2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Won)
	assert.Equal(t, assignment.ReasonAlreadyAssigned, res.Reason)

	resp = post(t, srv.URL+"/api/demandes/"+d.ID+"/accept", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLifecycleOverHTTP(t *testing.T) {
	_, srv := setup(t)
	d := createDemande(t, srv)
	base := srv.URL + "/api/demandes/" + d.ID

	resp := post(t, base+"/start", map[string]string{"technician_id": "t1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "start before accept")

	require.Equal(t, http.StatusOK, post(t, base+"/accept", map[string]string{"technician_id": "t1"}).StatusCode)
	assert.Equal(t, http.StatusForbidden, post(t, base+"/start", map[string]string{"technician_id": "t2"}).StatusCode)
	require.Equal(t, http.StatusOK, post(t, base+"/start", map[string]string{"technician_id": "t1"}).StatusCode)

	resp = post(t, base+"/complete", map[string]any{"technician_id": "t1", "cost": 15000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done model.Demande
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&done))
	assert.Equal(t, model.StatusTerminee, done.Status)

	resp = post(t, base+"/cancel", map[string]any{"actor": map[string]string{"kind": "client", "id": "c1"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGuardedCancelLosesToAccept(t *testing.T) {
	_, srv := setup(t)
	d := createDemande(t, srv)
	base := srv.URL + "/api/demandes/" + d.ID
	client := map[string]string{"kind": "client", "id": "c1"}

	resp := post(t, base+"/cancel", map[string]any{"actor": client, "if_status": "perdu"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Equal(t, http.StatusOK, post(t, base+"/accept", map[string]string{"technician_id": "t1"}).StatusCode)
	resp = post(t, base+"/cancel", map[string]any{"actor": client, "if_status": "en_attente"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	get, err := http.Get(base)
	require.NoError(t, err)
	defer get.Body.Close()
	var view model.DemandeView
	require.NoError(t, json.NewDecoder(get.Body).Decode(&view))
	assert.Equal(t, model.StatusAcceptee, view.Status)
}

func TestRefuseAndCancel(t *testing.T) {
	_, srv := setup(t)
	d := createDemande(t, srv)
	base := srv.URL + "/api/demandes/" + d.ID

	assert.Equal(t, http.StatusNoContent, post(t, base+"/refuse", map[string]string{"technician_id": "t1"}).StatusCode)
	assert.Equal(t, http.StatusNoContent, post(t, base+"/refuse", map[string]string{"technician_id": "t1"}).StatusCode)

	resp := post(t, base+"/cancel", map[string]any{"actor": map[string]string{"kind": "system"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = post(t, base+"/cancel", map[string]any{"actor": map[string]string{"kind": "client", "id": "c1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out model.Demande
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, model.StatusAnnulee, out.Status)

	list, err := http.Get(srv.URL + "/api/demandes?status=annulee&client_id=c1")
	require.NoError(t, err)
	defer list.Body.Close()
	var all []model.Demande
	require.NoError(t, json.NewDecoder(list.Body).Decode(&all))
	assert.Len(t, all, 1)

	bad, err := http.Get(srv.URL + "/api/demandes?status=perdu")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
