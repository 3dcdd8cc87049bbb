package mapview

import (
	"github.com/ekaya-inc/substation-labeler/pkg/geo"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// Shape kinds understood by the map client.
const (
	ShapePolygon      = "polygon"
	ShapePolyline     = "polyline"
	ShapeCircleMarker = "circle_marker"
)

const (
	shapeWeight    = 3
	boundaryWeight = 2
	pointRadius    = 5
)

// ClickFunc receives the full record of a clicked annotation.
type ClickFunc func(record models.ComponentAnnotation)

// Style is the visual style of one rendered feature.
type Style struct {
	Color       string `json:"color"`
	Fill        bool   `json:"fill"`
	Weight      int    `json:"weight,omitempty"`
	Radius      int    `json:"radius,omitempty"`
	Interactive bool   `json:"interactive"`
}

// RenderedFeature is a styled shape ready to draw.
type RenderedFeature struct {
	Key       string                      `json:"key"`
	Shape     string                      `json:"shape"`
	Positions []geo.LatLng                `json:"positions"`
	Label     string                      `json:"label"`
	Style     Style                       `json:"style"`
	Clickable bool                        `json:"clickable"`
	Record    *models.ComponentAnnotation `json:"record,omitempty"`

	onClick func()
}

// Click invokes the feature's click handler. It returns false for
// features that are not clickable, such as the boundary.
func (f RenderedFeature) Click() bool {
	if f.onClick == nil {
		return false
	}
	f.onClick()
	return true
}

// FindFeature looks up a rendered feature by key.
func FindFeature(features []RenderedFeature, key string) (RenderedFeature, bool) {
	for _, f := range features {
		if f.Key == key {
			return f, true
		}
	}
	return RenderedFeature{}, false
}

// Render styles each feature. Features whose geometry yields no positions
// are skipped, and so is a boundary that is not a polygon.
func (b *Builder) Render(features []Feature, onClick ClickFunc) []RenderedFeature {
	out := make([]RenderedFeature, 0, len(features))
	for _, f := range features {
		if rf, ok := b.renderOne(f, onClick); ok {
			out = append(out, rf)
		}
	}
	return out
}

func (b *Builder) renderOne(f Feature, onClick ClickFunc) (RenderedFeature, bool) {
	kind := f.Geometry.Kind()
	positions := geo.Positions(f.Geometry)
	if len(positions) == 0 {
		return RenderedFeature{}, false
	}

	rf := RenderedFeature{
		Key:       f.FeatureKey(),
		Positions: positions,
		Label:     f.Label,
	}

	if b.isBoundary(f) {
		if kind != models.GeometryPolygon {
			return RenderedFeature{}, false
		}
		rf.Shape = ShapePolygon
		rf.Style = Style{Color: b.catalog.Colors.Boundary, Fill: false, Weight: boundaryWeight}
		return rf, true
	}

	color := b.colorFor(f)
	switch kind {
	case models.GeometryPolygon:
		rf.Shape = ShapePolygon
		rf.Style = Style{Color: color, Weight: shapeWeight}
	case models.GeometryLineString:
		rf.Shape = ShapePolyline
		rf.Style = Style{Color: color, Weight: shapeWeight}
	case models.GeometryPoint:
		rf.Shape = ShapeCircleMarker
		rf.Style = Style{Color: color, Fill: true, Radius: pointRadius}
	default:
		return RenderedFeature{}, false
	}
	rf.Style.Interactive = true

	record := f.record()
	rf.Record = &record
	rf.Clickable = onClick != nil
	if onClick != nil {
		rf.onClick = func() { onClick(record) }
	}
	return rf, true
}

// colorFor applies the precedence: confirmed, then newly drawn, then label color.
// The boundary is handled before this is reached.
func (b *Builder) colorFor(f Feature) string {
	switch {
	case f.Confirmed:
		return b.catalog.Colors.Confirmed
	case f.Ref.IsUnsaved():
		return b.catalog.Colors.NewlyDrawn
	default:
		return b.catalog.LabelColor(f.Label)
	}
}

func (f Feature) record() models.ComponentAnnotation {
	if f.Record != nil {
		return *f.Record
	}
	return models.ComponentAnnotation{
		Ref:       f.Ref,
		Label:     f.Label,
		Confirmed: f.Confirmed,
		Geometry:  f.Geometry,
	}
}
