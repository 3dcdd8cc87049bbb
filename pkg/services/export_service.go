package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/metrics"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
)

// ExportFileName is the download name of the export document.
const ExportFileName = "annotations.json"

// ExportService builds the annotations download.
type ExportService interface {
	// Export returns every completed entity with its annotations embedded.
	// It returns apperrors.ErrNoAnnotatedData when nothing is complete.
	Export(ctx context.Context) ([]models.ExportedEntity, error)
}

type exportService struct {
	entityRepo     repositories.EntityRepository
	annotationRepo repositories.AnnotationRepository
	pointRepo      repositories.PointAnnotationRepository
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewExportService creates a new ExportService.
func NewExportService(
	entityRepo repositories.EntityRepository,
	annotationRepo repositories.AnnotationRepository,
	pointRepo repositories.PointAnnotationRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) ExportService {
	return &exportService{
		entityRepo:     entityRepo,
		annotationRepo: annotationRepo,
		pointRepo:      pointRepo,
		metrics:        m,
		logger:         logger.Named("export"),
	}
}

var _ ExportService = (*exportService)(nil)

func (s *exportService) Export(ctx context.Context) (exported []models.ExportedEntity, err error) {
	defer func() { s.metrics.ObserveExport(err) }()

	complete := true
	entities, err := s.entityRepo.List(ctx, models.EntityFilter{Completed: &complete})
	if err != nil {
		return nil, fmt.Errorf("failed to list completed entities: %w", err)
	}
	if len(entities) == 0 {
		return nil, apperrors.ErrNoAnnotatedData
	}

	ids := make([]uuid.UUID, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}

	annotations, err := s.annotationRepo.ListByEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}
	points, err := s.pointRepo.ListByEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load point annotations: %w", err)
	}

	exported = make([]models.ExportedEntity, 0, len(entities))
	for _, e := range entities {
		item := models.ExportedEntity{
			Entity:               *e,
			ComponentAnnotations: derefAnnotations(annotations[e.ID]),
			PointAnnotations:     make([]models.PointAnnotation, 0, len(points[e.ID])),
		}
		for _, p := range points[e.ID] {
			item.PointAnnotations = append(item.PointAnnotations, *p)
		}
		exported = append(exported, item)
	}

	s.logger.Info("Exported annotations", zap.Int("entities", len(exported)))
	return exported, nil
}
