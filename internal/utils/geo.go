package utils

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/instacab/dispatch/internal/pkg/models"
)

const earthRadiusKm = 6371.0

// Distance returns the straight-line geodesic distance between two points in
// kilometers using the Haversine formula. Not road distance.
func Distance(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// EncodeLocation returns the geohash cell of a location at the given
// precision. Attached to driver snapshots for coarse spatial grouping.
func EncodeLocation(location models.Location, precision uint) string {
	return geohash.EncodeWithPrecision(location.Latitude, location.Longitude, precision)
}
