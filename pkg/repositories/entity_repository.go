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

// EntityRepository provides data access for annotated entities.
type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	List(ctx context.Context, filter models.EntityFilter) ([]*models.Entity, error)
	UpdateClassification(ctx context.Context, id uuid.UUID, classification *string) (*models.Entity, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completedBy string) (*models.Entity, error)
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `
	id, kind, name, external_id, classification, boundary, image_url,
	uploaded_by, completed, completed_by, completed_at, created_at`

func (r *entityRepository) Create(ctx context.Context, entity *models.Entity) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if entity.Kind == "" {
		entity.Kind = models.EntityKindSubstation
	}

	query := `
		INSERT INTO entities (
			kind, name, external_id, classification, boundary, image_url, uploaded_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, completed, created_at`

	err := scope.Conn.QueryRow(ctx, query,
		entity.Kind,
		entity.Name,
		entity.ExternalID,
		entity.Classification,
		geometryParam(entity.Boundary),
		entity.ImageURL,
		entity.UploadedBy,
	).Scan(&entity.ID, &entity.Completed, &entity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`

	entity, err := scanEntity(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

// List returns entities newest first.
func (r *entityRepository) List(ctx context.Context, filter models.EntityFilter) ([]*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE ($1::boolean IS NULL OR completed = $1)
		ORDER BY created_at DESC, id`

	rows, err := scope.Conn.Query(ctx, query, filter.Completed)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*models.Entity, 0)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

func (r *entityRepository) UpdateClassification(ctx context.Context, id uuid.UUID, classification *string) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE entities SET classification = $2
		WHERE id = $1
		RETURNING ` + entityColumns

	entity, err := scanEntity(scope.Conn.QueryRow(ctx, query, id, classification))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update classification: %w", err)
	}

	return entity, nil
}

func (r *entityRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedBy string) (*models.Entity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE entities
		SET completed = TRUE,
		    completed_by = COALESCE(completed_by, $2),
		    completed_at = COALESCE(completed_at, now())
		WHERE id = $1
		RETURNING ` + entityColumns

	entity, err := scanEntity(scope.Conn.QueryRow(ctx, query, id, completedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark entity complete: %w", err)
	}

	return entity, nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var boundary []byte

	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.Name,
		&e.ExternalID,
		&e.Classification,
		&boundary,
		&e.ImageURL,
		&e.UploadedBy,
		&e.Completed,
		&e.CompletedBy,
		&e.CompletedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(boundary) > 0 {
		e.Boundary = models.Geometry(boundary)
	}
	return &e, nil
}

// geometryParam passes raw GeoJSON to a jsonb column, or NULL when absent.
func geometryParam(g models.Geometry) any {
	if g.IsZero() {
		return nil
	}
	return []byte(g)
}
