package geo

import (
	"math"

	"github.com/kilianp07/depannage/core/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DefaultSpeedKmh reflects average urban traffic.
const DefaultSpeedKmh = 40.0

const kmPerDegreeLat = math.Pi * EarthRadiusKm / 180

// Haversine returns the great-circle distance in kilometers.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := toRad(lat1)
	rlat2 := toRad(lat2)
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is Haversine on two points.
func Distance(a, b model.Point) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ETAMinutes converts a distance into whole minutes at the given speed.
// A non-positive speed falls back to DefaultSpeedKmh.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
