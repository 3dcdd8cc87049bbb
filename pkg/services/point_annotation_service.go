package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/geo"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
)

// PointInput places a point either directly as percentages, or as a click
// position inside the displayed image box.
type PointInput struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`

	ClientX *float64 `json:"client_x,omitempty"`
	ClientY *float64 `json:"client_y,omitempty"`
	Box     *geo.Box `json:"box,omitempty"`

	Labels     []string `json:"labels"`
	OtherLabel string   `json:"other_label"`
}

// position resolves the input to percentages of the image box.
func (in PointInput) position() (float64, float64, error) {
	switch {
	case in.X != nil && in.Y != nil:
		if !geo.ValidPercent(*in.X, *in.Y) {
			return 0, 0, fmt.Errorf("position (%g, %g) must be within [0,100]", *in.X, *in.Y)
		}
		return *in.X, *in.Y, nil
	case in.ClientX != nil && in.ClientY != nil && in.Box != nil:
		return geo.NormalizeToBox(*in.ClientX, *in.ClientY, *in.Box)
	default:
		return 0, 0, fmt.Errorf("either x/y or client_x/client_y with box is required")
	}
}

// PointAnnotationService manages point annotations on image entities.
type PointAnnotationService interface {
	Create(ctx context.Context, who models.Identity, entityID uuid.UUID, input PointInput) (*models.PointAnnotation, error)
	List(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type pointAnnotationService struct {
	pointRepo  repositories.PointAnnotationRepository
	entityRepo repositories.EntityRepository
	catalog    *catalog.Catalog
	logger     *zap.Logger
}

// NewPointAnnotationService creates a new PointAnnotationService.
func NewPointAnnotationService(
	pointRepo repositories.PointAnnotationRepository,
	entityRepo repositories.EntityRepository,
	cat *catalog.Catalog,
	logger *zap.Logger,
) PointAnnotationService {
	return &pointAnnotationService{
		pointRepo:  pointRepo,
		entityRepo: entityRepo,
		catalog:    cat,
		logger:     logger.Named("points"),
	}
}

var _ PointAnnotationService = (*pointAnnotationService)(nil)

func (s *pointAnnotationService) Create(ctx context.Context, who models.Identity, entityID uuid.UUID, input PointInput) (*models.PointAnnotation, error) {
	x, y, err := input.position()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	labels := make([]string, 0, len(input.Labels))
	for _, label := range input.Labels {
		if !s.catalog.IsComponent(label) {
			return nil, fmt.Errorf("%w: unknown component %q", apperrors.ErrValidation, label)
		}
		if !slices.Contains(labels, label) {
			labels = append(labels, label)
		}
	}

	entity, err := s.entityRepo.GetByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if entity == nil {
		return nil, apperrors.ErrNotFound
	}

	point := &models.PointAnnotation{
		EntityID:  entityID,
		X:         x,
		Y:         y,
		Labels:    labels,
		CreatedBy: who.Attribution(),
	}
	if other := strings.TrimSpace(input.OtherLabel); other != "" {
		point.OtherLabel = &other
	}

	if err := s.pointRepo.Create(ctx, point); err != nil {
		return nil, err
	}

	s.logger.Debug("Point annotation created",
		zap.String("entity_id", entityID.String()),
		zap.Float64("x", x),
		zap.Float64("y", y))
	return point, nil
}

func (s *pointAnnotationService) List(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error) {
	return s.pointRepo.ListByEntity(ctx, entityID)
}

func (s *pointAnnotationService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.pointRepo.Delete(ctx, id)
}
