// README: Geographic helpers: great-circle distance, coordinate bounds and distance ordering.
package location

import (
	"cmp"
	"math"
	"slices"

	"hometaste/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm is the haversine distance between two points.
func DistanceKm(a, b types.Point) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1, rLat2 := radians(lat1), radians(lat2)
	halfDLat := radians(lat2-lat1) / 2
	halfDLng := radians(lng2-lng1) / 2

	h := math.Pow(math.Sin(halfDLat), 2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Pow(math.Sin(halfDLng), 2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// ValidPoint reports whether p lies inside WGS84 bounds.
func ValidPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// SortByDistance orders items nearest first; equal distances keep their order.
func SortByDistance[T any](items []T, dist func(T) float64) {
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(dist(a), dist(b)) })
}
