// Package geo holds coordinate types and great-circle distance helpers used
// by donor discovery.
package geo

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate. Order mirrors GeoJSON: longitude first.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// IsZero reports whether the point carries no usable location.
// Profiles without a geolocation fix are stored as [0,0].
func (p Point) IsZero() bool { return p.Lng == 0 && p.Lat == 0 }

// Valid reports whether the coordinates are within WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box is a lat/lng bounding rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle that contains every point within radiusKm of
// center. It is a cheap prefilter; callers still refine with HaversineKm.
func BoundingBox(center Point, radiusKm float64) Box {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	b := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	// near the poles every longitude is in range
	cosLat := math.Cos(toRad(center.Lat))
	if cosLat > 1e-9 {
		dLng := dLat / cosLat
		if dLng < 180 {
			b.MinLng = center.Lng - dLng
			b.MaxLng = center.Lng + dLng
		}
	}
	return b
}

// Contains reports whether p lies inside the box. Longitudes outside
// [-180, 180] on the box edges wrap around the antimeridian.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLng >= -180 && b.MaxLng <= 180 {
		return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
	}
	lng := p.Lng
	if b.MinLng < -180 && lng > 0 {
		lng -= 360
	}
	if b.MaxLng > 180 && lng < 0 {
		lng += 360
	}
	return lng >= b.MinLng && lng <= b.MaxLng
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
