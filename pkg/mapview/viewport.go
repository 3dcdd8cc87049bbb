package mapview

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/ekaya-inc/substation-labeler/pkg/geo"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// Bounds is a geographic box in [lat, lng] corners.
type Bounds struct {
	SouthWest geo.LatLng `json:"south_west"`
	NorthEast geo.LatLng `json:"north_east"`
}

// Contains reports whether p lies inside or on the edge of the box.
func (b Bounds) Contains(p geo.LatLng) bool {
	return p.Lat() >= b.SouthWest.Lat() && p.Lat() <= b.NorthEast.Lat() &&
		p.Lng() >= b.SouthWest.Lng() && p.Lng() <= b.NorthEast.Lng()
}

// View is the viewport request: either fit to Bounds with pixel padding,
// or set to Center and Zoom.
type View struct {
	Fit     bool       `json:"fit"`
	Bounds  *Bounds    `json:"bounds,omitempty"`
	Padding [2]int     `json:"padding"`
	Center  geo.LatLng `json:"center"`
	Zoom    int        `json:"zoom"`
}

// FitView fits to the boundary feature's outer ring, or falls back to the
// default view when there is no usable boundary.
func (b *Builder) FitView(features []Feature) View {
	fallback := View{Center: b.opts.DefaultCenter, Zoom: b.opts.DefaultZoom}

	boundary, ok := b.findBoundary(features)
	if !ok || boundary.Geometry.Kind() != models.GeometryPolygon {
		return fallback
	}

	ring := geo.Positions(boundary.Geometry)
	if len(ring) == 0 {
		return fallback
	}

	bounds, ok := boundsOf(ring)
	if !ok {
		return fallback
	}

	return View{
		Fit:     true,
		Bounds:  &bounds,
		Padding: [2]int{b.opts.PaddingPx, b.opts.PaddingPx},
	}
}

func (b *Builder) findBoundary(features []Feature) (Feature, bool) {
	for _, f := range features {
		if b.isBoundary(f) {
			return f, true
		}
	}
	return Feature{}, false
}

func boundsOf(ring []geo.LatLng) (Bounds, bool) {
	points := make(orb.MultiPoint, 0, len(ring))
	for _, p := range ring {
		if !finite(p.Lat()) || !finite(p.Lng()) || p.Lat() < -90 || p.Lat() > 90 {
			return Bounds{}, false
		}
		points = append(points, orb.Point{p.Lng(), p.Lat()})
	}

	bound := points.Bound()
	return Bounds{
		SouthWest: geo.LatLng{bound.Min.Lat(), bound.Min.Lon()},
		NorthEast: geo.LatLng{bound.Max.Lat(), bound.Max.Lon()},
	}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
