package geo

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/core/model"
)

func TestHaversineCotonou(t *testing.T) {
	d := Haversine(6.3703, 2.3912, 6.4203, 2.3912)
	if math.Abs(d-5.56) > 0.01 {
		t.Fatalf("expected ~5.56 km got %f", d)
	}
	if eta := ETAMinutes(d, DefaultSpeedKmh); eta != 9 {
		t.Fatalf("expected 9 minutes got %d", eta)
	}
}

func TestETAMinutesEdges(t *testing.T) {
	assert.Equal(t, 0, ETAMinutes(0, 40))
	assert.Equal(t, 3, ETAMinutes(2, 0), "zero speed falls back to default")
	assert.Equal(t, 1, ETAMinutes(0.01, 40))
}

// offsetNorth returns a point km kilometers north of p.
func offsetNorth(p model.Point, km float64) model.Point {
	return model.Point{Lat: p.Lat + km/kmPerDegreeLat, Lng: p.Lng}
}

func TestGridIndexNearby(t *testing.T) {
	idx := NewGridIndex(Config{})
	origin := model.Point{Lat: 6.366, Lng: 2.433}
	for i, km := range []float64{1, 4, 12, 30} {
		id := fmt.Sprintf("t%d", i)
		p := offsetNorth(origin, km)
		require.NoError(t, idx.UpsertPosition(id, p.Lat, p.Lng))
		idx.SetCapabilities(id, []model.VehicleType{model.VehicleVoiture})
	}

	hits := idx.Nearby(origin, 10, model.VehicleVoiture)
	require.Len(t, hits, 2)
	assert.Equal(t, "t0", hits[0].TechnicianID)
	assert.InDelta(t, 4, hits[1].DistanceKm, 0.01)

	hits = idx.Nearby(origin, 50, model.VehicleVoiture)
	assert.Len(t, hits, 4)

	assert.Empty(t, idx.Nearby(origin, 50, model.VehicleCamion))
}

func TestGridIndexMoveBetweenCells(t *testing.T) {
	idx := NewGridIndex(Config{CellSizeDeg: 0.01})
	idx.SetCapabilities("t1", []model.VehicleType{model.VehicleMoto})
	require.NoError(t, idx.UpsertPosition("t1", 6.30, 2.30))
	require.NoError(t, idx.UpsertPosition("t1", 6.50, 2.50))

	assert.Empty(t, idx.Nearby(model.Point{Lat: 6.30, Lng: 2.30}, 1, model.VehicleMoto))
	hits := idx.Nearby(model.Point{Lat: 6.50, Lng: 2.50}, 1, model.VehicleMoto)
	require.Len(t, hits, 1)

	idx.Remove("t1")
	assert.Empty(t, idx.Nearby(model.Point{Lat: 6.50, Lng: 2.50}, 1, model.VehicleMoto))
	_, ok := idx.Position("t1")
	assert.False(t, ok)
}

func TestGridIndexStalePositionExcluded(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	idx := NewGridIndex(Config{StaleAfterSeconds: 60})
	idx.SetClock(func() time.Time { return now })
	idx.SetCapabilities("t1", []model.VehicleType{model.VehicleVoiture})
	require.NoError(t, idx.UpsertPosition("t1", 6.37, 2.39))

	now = now.Add(2 * time.Minute)
	assert.Empty(t, idx.Nearby(model.Point{Lat: 6.37, Lng: 2.39}, 5, model.VehicleVoiture))
}

func TestGridIndexRejectsInvalidCoordinates(t *testing.T) {
	idx := NewGridIndex(Config{})
	err := idx.UpsertPosition("t1", 120, 0)
	assert.True(t, errors.Is(err, model.ErrInvalidCoordinates))
	assert.Nil(t, idx.Nearby(model.Point{Lat: 200}, 5, ""))
}

func TestGridIndexConcurrentUpserts(t *testing.T) {
	idx := NewGridIndex(Config{CellSizeDeg: 0.01})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i%5)
			for j := 0; j < 50; j++ {
				_ = idx.UpsertPosition(id, 6.3+float64(j%7)*0.01, 2.4)
				_ = idx.Nearby(model.Point{Lat: 6.33, Lng: 2.4}, 10, "")
			}
		}(i)
	}
	wg.Wait()
	hits := idx.Nearby(model.Point{Lat: 6.33, Lng: 2.4}, 50, "")
	assert.Len(t, hits, 5, "each technician must appear in exactly one cell")
}
