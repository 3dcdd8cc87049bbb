// Package geo converts GeoJSON geometries into the [lat, lng] positions the
// map client draws, and normalizes image-space clicks.
package geo

import (
	"github.com/paulmach/orb"

	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// LatLng is a map position. It encodes as [lat, lng].
type LatLng [2]float64

// Lat returns the latitude.
func (p LatLng) Lat() float64 { return p[0] }

// Lng returns the longitude.
func (p LatLng) Lng() float64 { return p[1] }

// Positions converts a stored geometry into map positions.
// Polygons yield their outer ring (holes are ignored), lines their vertices and
// points a single position. Absent, malformed or unsupported geometries yield
// an empty result.
func Positions(g models.Geometry) []LatLng {
	decoded, err := g.Decode()
	if err != nil {
		return nil
	}
	return FromOrb(decoded)
}

// FromOrb is Positions for an already-decoded geometry.
func FromOrb(g orb.Geometry) []LatLng {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return nil
		}
		return fromPoints(v[0])
	case orb.LineString:
		return fromPoints(v)
	case orb.Point:
		return []LatLng{swap(v)}
	default:
		return nil
	}
}

func fromPoints(points []orb.Point) []LatLng {
	if len(points) == 0 {
		return nil
	}
	out := make([]LatLng, len(points))
	for i, p := range points {
		out[i] = swap(p)
	}
	return out
}

func swap(p orb.Point) LatLng {
	return LatLng{p.Lat(), p.Lon()}
}
