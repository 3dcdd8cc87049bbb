package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const unsavedKeyPrefix = "unsaved-"

// AnnotationRef identifies a component annotation that is either unsaved
// (known only to the session, by a local key) or persisted (by its row id).
// The zero value is neither and reports IsValid() == false.
type AnnotationRef struct {
	id       uuid.UUID
	localKey string
}

// Unsaved returns a reference to a drawn annotation that has not been written yet.
func Unsaved(localKey string) AnnotationRef {
	return AnnotationRef{localKey: localKey}
}

// Persisted returns a reference to a stored annotation row.
func Persisted(id uuid.UUID) AnnotationRef {
	return AnnotationRef{id: id}
}

// IsValid reports whether the reference names anything.
func (r AnnotationRef) IsValid() bool {
	return r.id != uuid.Nil || r.localKey != ""
}

// IsPersisted reports whether the reference points at a stored row.
func (r AnnotationRef) IsPersisted() bool {
	return r.id != uuid.Nil
}

// IsUnsaved reports whether the reference points at a session-local annotation.
func (r AnnotationRef) IsUnsaved() bool {
	return r.id == uuid.Nil && r.localKey != ""
}

// ID returns the row id of a persisted reference.
func (r AnnotationRef) ID() (uuid.UUID, bool) {
	return r.id, r.IsPersisted()
}

// LocalKey returns the session key of an unsaved reference.
func (r AnnotationRef) LocalKey() (string, bool) {
	return r.localKey, r.IsUnsaved()
}

// Key is the URL-safe form used to address rendered features.
func (r AnnotationRef) Key() string {
	if r.IsPersisted() {
		return r.id.String()
	}
	if r.localKey != "" {
		return unsavedKeyPrefix + r.localKey
	}
	return ""
}

func (r AnnotationRef) String() string {
	return r.Key()
}

// ParseAnnotationKey is the inverse of Key.
func ParseAnnotationKey(key string) (AnnotationRef, error) {
	if local, ok := strings.CutPrefix(key, unsavedKeyPrefix); ok {
		if local == "" {
			return AnnotationRef{}, fmt.Errorf("empty local key")
		}
		return Unsaved(local), nil
	}
	id, err := uuid.Parse(key)
	if err != nil {
		return AnnotationRef{}, fmt.Errorf("invalid annotation key %q: %w", key, err)
	}
	return Persisted(id), nil
}

type annotationRefJSON struct {
	State    string     `json:"state"`
	ID       *uuid.UUID `json:"id,omitempty"`
	LocalKey string     `json:"local_key,omitempty"`
}

// MarshalJSON encodes the reference as {"state":"persisted","id":...} or
// {"state":"unsaved","local_key":...}.
func (r AnnotationRef) MarshalJSON() ([]byte, error) {
	switch {
	case r.IsPersisted():
		id := r.id
		return json.Marshal(annotationRefJSON{State: "persisted", ID: &id})
	case r.IsUnsaved():
		return json.Marshal(annotationRefJSON{State: "unsaved", LocalKey: r.localKey})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts the object form produced by MarshalJSON.
func (r *AnnotationRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = AnnotationRef{}
		return nil
	}
	var raw annotationRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.State {
	case "persisted":
		if raw.ID == nil || *raw.ID == uuid.Nil {
			return fmt.Errorf("persisted annotation ref requires an id")
		}
		*r = Persisted(*raw.ID)
	case "unsaved":
		if raw.LocalKey == "" {
			return fmt.Errorf("unsaved annotation ref requires a local_key")
		}
		*r = Unsaved(raw.LocalKey)
	default:
		return fmt.Errorf("unknown annotation ref state %q", raw.State)
	}
	return nil
}
