// Package geo implements the location index: driver position upserts,
// nearest-neighbour queries, and service-area validation. Both a
// Redis-backed and an in-memory implementation satisfy the same interface.
package geo

import (
	"math"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

const earthRadiusKM = 6371

// Haversine returns the great-circle distance between a and b in
// kilometres, using the WGS84 mean Earth radius.
func Haversine(a, b dispatch.Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
