package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
)

// EntityListItem is an entity with its component summary.
type EntityListItem struct {
	*models.Entity
	DisplayName string                       `json:"display_name"`
	Summary     []models.ComponentSummaryRow `json:"summary"`
}

// EntityDetail is an entity with its annotations.
type EntityDetail struct {
	*models.Entity
	DisplayName string                       `json:"display_name"`
	Annotations []models.ComponentAnnotation `json:"annotations"`
	Summary     []models.ComponentSummaryRow `json:"summary"`
}

// EntityService provides read access to entities outside an annotation session.
type EntityService interface {
	List(ctx context.Context, filter models.EntityFilter) ([]EntityListItem, error)
	Get(ctx context.Context, id uuid.UUID) (*EntityDetail, error)
}

type entityService struct {
	entityRepo     repositories.EntityRepository
	annotationRepo repositories.AnnotationRepository
	logger         *zap.Logger
}

// NewEntityService creates a new EntityService.
func NewEntityService(
	entityRepo repositories.EntityRepository,
	annotationRepo repositories.AnnotationRepository,
	logger *zap.Logger,
) EntityService {
	return &entityService{
		entityRepo:     entityRepo,
		annotationRepo: annotationRepo,
		logger:         logger.Named("entities"),
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) List(ctx context.Context, filter models.EntityFilter) ([]EntityListItem, error) {
	entities, err := s.entityRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	ids := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	grouped, err := s.annotationRepo.ListByEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	items := make([]EntityListItem, 0, len(entities))
	for _, e := range entities {
		items = append(items, EntityListItem{
			Entity:      e,
			DisplayName: e.DisplayName(),
			Summary:     SummarizeComponents(derefAnnotations(grouped[e.ID])),
		})
	}
	return items, nil
}

func (s *entityService) Get(ctx context.Context, id uuid.UUID) (*EntityDetail, error) {
	entity, err := s.entityRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if entity == nil {
		return nil, apperrors.ErrNotFound
	}

	annotations, err := s.annotationRepo.ListForEntity(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	values := derefAnnotations(annotations)

	return &EntityDetail{
		Entity:      entity,
		DisplayName: entity.DisplayName(),
		Annotations: values,
		Summary:     SummarizeComponents(values),
	}, nil
}
