package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/database"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

// PointAnnotationRepository provides data access for image point annotations.
type PointAnnotationRepository interface {
	Create(ctx context.Context, point *models.PointAnnotation) error
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error)
	ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.PointAnnotation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type pointAnnotationRepository struct{}

// NewPointAnnotationRepository creates a new PointAnnotationRepository.
func NewPointAnnotationRepository() PointAnnotationRepository {
	return &pointAnnotationRepository{}
}

var _ PointAnnotationRepository = (*pointAnnotationRepository)(nil)

const pointColumns = `id, entity_id, x, y, labels, other_label, created_by, created_at`

func (r *pointAnnotationRepository) Create(ctx context.Context, point *models.PointAnnotation) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	labels := point.Labels
	if labels == nil {
		labels = []string{}
	}

	query := `
		INSERT INTO point_annotations (entity_id, x, y, labels, other_label, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := scope.Conn.QueryRow(ctx, query,
		point.EntityID,
		point.X,
		point.Y,
		labels,
		point.OtherLabel,
		point.CreatedBy,
	).Scan(&point.ID, &point.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create point annotation: %w", err)
	}

	point.Labels = labels
	return nil
}

func (r *pointAnnotationRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error) {
	grouped, err := r.ListByEntities(ctx, []uuid.UUID{entityID})
	if err != nil {
		return nil, err
	}
	points := grouped[entityID]
	if points == nil {
		points = make([]*models.PointAnnotation, 0)
	}
	return points, nil
}

func (r *pointAnnotationRepository) ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.PointAnnotation, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	grouped := make(map[uuid.UUID][]*models.PointAnnotation, len(entityIDs))
	if len(entityIDs) == 0 {
		return grouped, nil
	}

	query := `
		SELECT ` + pointColumns + `
		FROM point_annotations
		WHERE entity_id = ANY($1)
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list point annotations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan point annotation: %w", err)
		}
		grouped[p.EntityID] = append(grouped[p.EntityID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating point annotations: %w", err)
	}

	return grouped, nil
}

func (r *pointAnnotationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM point_annotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete point annotation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanPoint(row pgx.Row) (*models.PointAnnotation, error) {
	var p models.PointAnnotation
	err := row.Scan(&p.ID, &p.EntityID, &p.X, &p.Y, &p.Labels, &p.OtherLabel, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if p.Labels == nil {
		p.Labels = []string{}
	}
	return &p, nil
}
