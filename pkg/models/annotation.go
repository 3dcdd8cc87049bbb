package models

import (
	"time"

	"github.com/google/uuid"
)

// ComponentAnnotation is a labeled shape marking one physical component.
// Stored in the component_annotations table once saved.
type ComponentAnnotation struct {
	Ref              AnnotationRef `json:"ref"`
	EntityID         *uuid.UUID    `json:"entity_id,omitempty"` // nil for unassigned annotations
	EntityExternalID *string       `json:"entity_external_id,omitempty"`
	Label            string        `json:"label"`
	Confirmed        bool          `json:"confirmed"`
	Geometry         Geometry      `json:"geometry"`
	CreatedBy        *string       `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// PointAnnotation marks a position on an image as a percentage of the
// displayed image box. X and Y are always within [0, 100].
type PointAnnotation struct {
	ID         uuid.UUID `json:"id"`
	EntityID   uuid.UUID `json:"entity_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Labels     []string  `json:"labels"`
	OtherLabel *string   `json:"other_label,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ComponentSummaryRow counts annotations for one label.
// Confirmed is the figure that counts toward the summary; Total includes unconfirmed rows.
type ComponentSummaryRow struct {
	Label     string `json:"label"`
	Total     int    `json:"total"`
	Confirmed int    `json:"confirmed"`
}

// ExportedEntity is one element of the annotations.json download.
type ExportedEntity struct {
	Entity
	ComponentAnnotations []ComponentAnnotation `json:"component_annotations"`
	PointAnnotations     []PointAnnotation     `json:"point_annotations"`
}

// Identity is the authenticated caller, passed explicitly into operations
// that record who did something.
type Identity struct {
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name"`
}

// Attribution returns the value written to created_by/uploaded_by columns.
func (i Identity) Attribution() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Subject
}
