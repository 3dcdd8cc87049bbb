package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeoJSON geometry type names understood by the renderer.
const (
	GeometryPolygon    = "Polygon"
	GeometryLineString = "LineString"
	GeometryPoint      = "Point"
)

// Geometry is a GeoJSON geometry object in [longitude, latitude] order.
// It is kept as raw JSON so that malformed or unsupported shapes survive a
// storage round-trip unchanged and simply render as nothing.
type Geometry []byte

// NewGeometry encodes an orb geometry as GeoJSON.
func NewGeometry(g orb.Geometry) (Geometry, error) {
	if g == nil {
		return nil, fmt.Errorf("nil geometry")
	}
	raw, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return Geometry(raw), nil
}

// IsZero reports whether no geometry is present.
func (g Geometry) IsZero() bool {
	trimmed := bytes.TrimSpace(g)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Kind returns the GeoJSON "type" member, or "" when absent or unreadable.
func (g Geometry) Kind() string {
	if g.IsZero() {
		return ""
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(g, &head); err != nil {
		return ""
	}
	return head.Type
}

// Decode parses the geometry into an orb value. It fails on absent or malformed input.
func (g Geometry) Decode() (orb.Geometry, error) {
	if g.IsZero() {
		return nil, fmt.Errorf("geometry is empty")
	}
	if err := g.checkCoordinates(); err != nil {
		return nil, err
	}
	parsed, err := geojson.UnmarshalGeometry(g)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	if parsed.Coordinates == nil {
		return nil, fmt.Errorf("geometry has no coordinates")
	}
	return parsed.Geometry(), nil
}

// coordinateDepth is the array nesting above a single position for each
// coordinate-bearing GeoJSON type.
var coordinateDepth = map[string]int{
	"Point":           0,
	"MultiPoint":      1,
	"LineString":      1,
	"MultiLineString": 2,
	"Polygon":         2,
	"MultiPolygon":    3,
}

// checkCoordinates rejects positions orb would otherwise zero-fill: every
// position must hold at least two finite numbers.
func (g Geometry) checkCoordinates() error {
	var head struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(g, &head); err != nil {
		return fmt.Errorf("failed to decode geometry: %w", err)
	}
	depth, ok := coordinateDepth[head.Type]
	if !ok || head.Coordinates == nil {
		// Left to orb, which rejects unknown types and handles collections.
		return nil
	}
	var coords any
	if err := json.Unmarshal(head.Coordinates, &coords); err != nil {
		return fmt.Errorf("failed to decode coordinates: %w", err)
	}
	return checkNesting(coords, depth)
}

func checkNesting(v any, depth int) error {
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("coordinates must be arrays")
	}
	if depth > 0 {
		for _, child := range arr {
			if err := checkNesting(child, depth-1); err != nil {
				return err
			}
		}
		return nil
	}
	if len(arr) < 2 {
		return fmt.Errorf("position needs at least 2 numbers, got %d", len(arr))
	}
	for _, n := range arr {
		f, ok := n.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("position holds a non-numeric value")
		}
	}
	return nil
}

// MarshalJSON emits the raw geometry, or null when empty.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsZero() {
		return []byte("null"), nil
	}
	return []byte(g), nil
}

// UnmarshalJSON stores a copy of the raw geometry without validating it.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if g == nil {
		return fmt.Errorf("models.Geometry: UnmarshalJSON on nil pointer")
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*g = nil
		return nil
	}
	*g = append((*g)[:0], data...)
	return nil
}
