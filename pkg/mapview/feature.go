// Package mapview turns an entity's annotations into a render-ready scene:
// the map view to request, styled features and the color legend.
package mapview

import (
	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/geo"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// Feature is one shape handed to the renderer.
type Feature struct {
	Ref       models.AnnotationRef
	Key       string // overrides Ref.Key() when set, used for the boundary
	Label     string
	Confirmed bool
	Boundary  bool
	Geometry  models.Geometry

	// Record is the full annotation passed to click handlers. Nil for the boundary.
	Record *models.ComponentAnnotation
}

// FeatureKey returns the key a rendered feature is addressed by.
func (f Feature) FeatureKey() string {
	if f.Key != "" {
		return f.Key
	}
	return f.Ref.Key()
}

// FromAnnotation wraps a component annotation as a feature.
func FromAnnotation(a *models.ComponentAnnotation) Feature {
	return Feature{
		Ref:       a.Ref,
		Label:     a.Label,
		Confirmed: a.Confirmed,
		Geometry:  a.Geometry,
		Record:    a,
	}
}

// BoundaryFeature returns the synthetic outline feature for an entity,
// or false when the entity has no boundary geometry.
func BoundaryFeature(e *models.Entity, cat *catalog.Catalog) (Feature, bool) {
	if e == nil || e.Boundary.IsZero() {
		return Feature{}, false
	}
	return Feature{
		Key:      "boundary-" + e.ID.String(),
		Label:    cat.BoundaryLabel,
		Boundary: true,
		Geometry: e.Boundary,
	}, true
}

// Options configures the fallback view and fit padding.
type Options struct {
	DefaultCenter geo.LatLng
	DefaultZoom   int
	PaddingPx     int
}

// DefaultOptions centers on the continental United States.
func DefaultOptions() Options {
	return Options{
		DefaultCenter: geo.LatLng{40, -95},
		DefaultZoom:   4,
		PaddingPx:     20,
	}
}

// Builder assembles scenes using a label catalog.
type Builder struct {
	catalog *catalog.Catalog
	opts    Options
}

// NewBuilder creates a Builder.
func NewBuilder(cat *catalog.Catalog, opts Options) *Builder {
	return &Builder{catalog: cat, opts: opts}
}

func (b *Builder) isBoundary(f Feature) bool {
	return f.Boundary || f.Label == b.catalog.BoundaryLabel
}

// Scene is everything a client needs to draw the map for one entity.
type Scene struct {
	View     View              `json:"view"`
	Features []RenderedFeature `json:"features"`
	Legend   []LegendRow       `json:"legend"`
}

// Scene fits the view, renders features and derives the legend in one pass.
func (b *Builder) Scene(features []Feature, onClick ClickFunc) Scene {
	return Scene{
		View:     b.FitView(features),
		Features: b.Render(features, onClick),
		Legend:   b.Legend(features),
	}
}
