package techniciens_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/api/techniciens"
	"github.com/kilianp07/depannage/app"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/infra/logger"
)

func setup(t *testing.T) (*app.Service, string) {
	t.Helper()
	svc, err := app.NewService(app.Components{Store: demande.NewMemoryStore(), Logger: logger.NopLogger{}})
	require.NoError(t, err)
	mux := http.NewServeMux()
	techniciens.Register(mux, svc)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return svc, srv.URL
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

func TestRegisterAndPoll(t *testing.T) {
	svc, base := setup(t)
	resp := post(t, base+"/api/techniciens", map[string]any{
		"id": "t1", "name": "Koffi", "rating": 4.6, "vehicle_capabilities": []string{"voiture", "moto"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tech model.Technician
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tech))
	assert.Equal(t, model.Disponible, tech.Disponibilite)

	require.Equal(t, http.StatusNoContent, post(t, base+"/api/techniciens/t1/position", map[string]float64{"lat": 6.38, "lng": 2.39}).StatusCode)

	_, err := svc.CreateDemande(context.Background(), model.NewDemande{
		ClientID: "c1", Pickup: model.Point{Lat: 6.37, Lng: 2.39}, VehicleType: model.VehicleMoto, TypePanne: "chaine",
	})
	require.NoError(t, err)

	got, err := http.Get(base + "/api/techniciens/t1/demandes")
	require.NoError(t, err)
	defer got.Body.Close()
	var offers []model.Offer
	require.NoError(t, json.NewDecoder(got.Body).Decode(&offers))
	require.Len(t, offers, 1)
	assert.Equal(t, 1.1, offers[0].DistanceKm)
	assert.Equal(t, model.VehicleMoto, offers[0].VehicleType)
}

func TestStatusToggle(t *testing.T) {
	_, base := setup(t)
	require.Equal(t, http.StatusCreated, post(t, base+"/api/techniciens", map[string]any{
		"id": "t1", "rating": 4, "vehicle_capabilities": []string{"voiture"},
	}).StatusCode)

	resp := post(t, base+"/api/techniciens/t1/status", map[string]string{"disponibilite": "hors_service"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tech model.Technician
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tech))
	assert.Equal(t, model.HorsService, tech.Disponibilite)

	assert.Equal(t, http.StatusConflict, post(t, base+"/api/techniciens/t1/status", map[string]string{"disponibilite": "occupe"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, base+"/api/techniciens/t1/status", map[string]string{"disponibilite": "conge"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, post(t, base+"/api/techniciens/ghost/status", map[string]string{"disponibilite": "disponible"}).StatusCode)
}

func TestPositionErrors(t *testing.T) {
	_, base := setup(t)
	assert.Equal(t, http.StatusNotFound, post(t, base+"/api/techniciens/ghost/position", map[string]float64{"lat": 6.3, "lng": 2.3}).StatusCode)
	require.Equal(t, http.StatusCreated, post(t, base+"/api/techniciens", map[string]any{
		"id": "t1", "rating": 4, "vehicle_capabilities": []string{"voiture"},
	}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, base+"/api/techniciens/t1/position", map[string]float64{"lat": 6.3, "lng": 200}).StatusCode)

	list, err := http.Get(base + "/api/techniciens")
	require.NoError(t, err)
	defer list.Body.Close()
	var techs []model.Technician
	require.NoError(t, json.NewDecoder(list.Body).Decode(&techs))
	assert.Len(t, techs, 1)
}
