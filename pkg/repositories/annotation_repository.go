package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/database"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// AnnotationRepository provides data access for component annotations.
// Writes return the stored row; the input is never modified.
type AnnotationRepository interface {
	Create(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error)
	Update(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListForEntity returns the entity's annotations, plus unassigned ones when includeUnassigned is set.
	ListForEntity(ctx context.Context, entityID uuid.UUID, includeUnassigned bool) ([]*models.ComponentAnnotation, error)
	// ListByEntities groups annotations by owning entity.
	ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.ComponentAnnotation, error)
}

type annotationRepository struct{}

// NewAnnotationRepository creates a new AnnotationRepository.
func NewAnnotationRepository() AnnotationRepository {
	return &annotationRepository{}
}

var _ AnnotationRepository = (*annotationRepository)(nil)

const annotationColumns = `
	id, entity_id, entity_external_id, label, confirmed, geometry,
	created_by, created_at, updated_at`

func (r *annotationRepository) Create(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		INSERT INTO component_annotations (
			entity_id, entity_external_id, label, confirmed, geometry, created_by
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + annotationColumns

	created, err := scanAnnotation(scope.Conn.QueryRow(ctx, query,
		annotation.EntityID,
		annotation.EntityExternalID,
		annotation.Label,
		annotation.Confirmed,
		geometryParam(annotation.Geometry),
		annotation.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}

	return created, nil
}

func (r *annotationRepository) Update(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	id, persisted := annotation.Ref.ID()
	if !persisted {
		return nil, fmt.Errorf("cannot update an unsaved annotation")
	}

	query := `
		UPDATE component_annotations
		SET entity_id = $2, entity_external_id = $3, label = $4,
		    confirmed = $5, geometry = $6, updated_at = now()
		WHERE id = $1
		RETURNING ` + annotationColumns

	updated, err := scanAnnotation(scope.Conn.QueryRow(ctx, query,
		id,
		annotation.EntityID,
		annotation.EntityExternalID,
		annotation.Label,
		annotation.Confirmed,
		geometryParam(annotation.Geometry),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update annotation: %w", err)
	}

	return updated, nil
}

func (r *annotationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM component_annotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *annotationRepository) ListForEntity(ctx context.Context, entityID uuid.UUID, includeUnassigned bool) ([]*models.ComponentAnnotation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + annotationColumns + `
		FROM component_annotations
		WHERE entity_id = $1 OR ($2 AND entity_id IS NULL)
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, entityID, includeUnassigned)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	return collectAnnotations(rows)
}

func (r *annotationRepository) ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.ComponentAnnotation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	grouped := make(map[uuid.UUID][]*models.ComponentAnnotation, len(entityIDs))
	if len(entityIDs) == 0 {
		return grouped, nil
	}

	query := `
		SELECT ` + annotationColumns + `
		FROM component_annotations
		WHERE entity_id = ANY($1)
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()

	annotations, err := collectAnnotations(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range annotations {
		grouped[*a.EntityID] = append(grouped[*a.EntityID], a)
	}
	return grouped, nil
}

func collectAnnotations(rows pgx.Rows) ([]*models.ComponentAnnotation, error) {
	annotations := make([]*models.ComponentAnnotation, 0)
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating annotations: %w", err)
	}
	return annotations, nil
}

func scanAnnotation(row pgx.Row) (*models.ComponentAnnotation, error) {
	var a models.ComponentAnnotation
	var id uuid.UUID
	var geometry []byte

	err := row.Scan(
		&id,
		&a.EntityID,
		&a.EntityExternalID,
		&a.Label,
		&a.Confirmed,
		&geometry,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Ref = models.Persisted(id)
	a.Geometry = models.Geometry(geometry)
	return &a, nil
}
