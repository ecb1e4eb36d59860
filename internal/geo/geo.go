package geo

import "math"

const (
	earthRadiusKm = 6371
	// kmPerDegree approximates one degree of latitude. Good enough for the
	// bounding-box pre-filter, which only has to be a superset of the circle.
	kmPerDegree = 111
)

// BoundingBox is a rectangular coordinate range used as an index-friendly
// pre-filter before exact distance computation.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoxAround returns the bounding box covering a circle of radiusKm around the
// point. The box is always a superset of the circle; callers must still apply
// the exact distance filter.
func BoxAround(lat, lng, radiusKm float64) BoundingBox {
	delta := radiusKm / kmPerDegree
	return BoundingBox{
		MinLat: lat - delta,
		MaxLat: lat + delta,
		MinLng: lng - delta,
		MaxLng: lng + delta,
	}
}

// DistanceKm computes the great-circle distance between two points using the
// haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// RoundKm rounds a distance to two decimal places, the precision exposed to
// clients.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
