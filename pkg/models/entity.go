package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind distinguishes substations imported from a survey from uploaded images.
type EntityKind string

const (
	EntityKindSubstation EntityKind = "substation"
	EntityKindImage      EntityKind = "image"
)

// Entity is the top-level record being annotated.
// Stored in the entities table. Optional fields are nil when the source never set them.
type Entity struct {
	ID             uuid.UUID  `json:"id"`
	Kind           EntityKind `json:"kind"`
	Name           *string    `json:"name,omitempty"`
	ExternalID     *string    `json:"external_id,omitempty"` // e.g. an OSM full id such as "w123456"
	Classification *string    `json:"classification,omitempty"`
	Boundary       Geometry   `json:"boundary,omitempty"`
	ImageURL       *string    `json:"image_url,omitempty"`
	UploadedBy     *string    `json:"uploaded_by,omitempty"`
	Completed      bool       `json:"completed"`
	CompletedBy    *string    `json:"completed_by,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DisplayName picks the most specific human-readable name available.
func (e *Entity) DisplayName() string {
	if e.ExternalID != nil && *e.ExternalID != "" {
		return *e.ExternalID
	}
	if e.Name != nil && *e.Name != "" {
		return *e.Name
	}
	if e.Kind == EntityKindImage {
		return "Unnamed Image"
	}
	return "Unnamed Substation"
}

// ClassificationValue returns the classification or "" when unset.
func (e *Entity) ClassificationValue() string {
	if e.Classification == nil {
		return ""
	}
	return *e.Classification
}

// EntityFilter narrows entity listings.
type EntityFilter struct {
	Completed *bool
}
