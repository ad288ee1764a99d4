// Package geofence gates claims to physical proximity of a business anchor.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
const EarthRadiusMeters = 6_371_000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewPoint returns nil unless both coordinates are present.
func NewPoint(lat, lng *float64) *Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &Point{Lat: *lat, Lng: *lng}
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// WithinRadius reports whether claimant is within radiusM of anchor.
// A missing point or a non-positive radius skips the check.
func WithinRadius(claimant, anchor *Point, radiusM float64) bool {
	if claimant == nil || anchor == nil || radiusM <= 0 {
		return true
	}
	return DistanceMeters(*claimant, *anchor) <= radiusM
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
