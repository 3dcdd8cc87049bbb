package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/metrics"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
	"github.com/ekaya-inc/substation-labeler/pkg/shapefile"
	"github.com/ekaya-inc/substation-labeler/pkg/storage"
	"github.com/ekaya-inc/substation-labeler/pkg/uploadlog"
)

// UploadFile is one file from a user's selection.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploadSelection is a validated file selection: one raster and any number of archives.
type UploadSelection struct {
	Raster   UploadFile
	Archives []UploadFile
}

// ArchiveResult reports how one shapefile archive was ingested.
type ArchiveResult struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Layers   int    `json:"layers"`
	Features int    `json:"features"`
	Inserted int    `json:"inserted"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// UploadResult is returned once the raster is stored and the entity exists,
// whatever happened to individual archives or features.
type UploadResult struct {
	UploadID  uuid.UUID       `json:"upload_id"`
	Entity    *models.Entity  `json:"entity"`
	ObjectKey string          `json:"object_key"`
	Archives  []ArchiveResult `json:"archives"`
	Inserted  int             `json:"inserted"`
	Failed    int             `json:"failed"`
	Log       []string        `json:"log"`
}

// ShapefileParser turns archive bytes into feature collections.
type ShapefileParser interface {
	Parse(data []byte) ([]shapefile.Collection, error)
}

// UploadService ingests a raster plus shapefile archives.
type UploadService interface {
	Ingest(ctx context.Context, who models.Identity, selection *UploadSelection) (*UploadResult, error)
	Log(ctx context.Context, uploadID uuid.UUID) ([]string, error)
}

// ValidateSelection sorts files by extension. Exactly one .tif/.tiff is required;
// .zip files are archives and anything else is ignored.
func ValidateSelection(files []UploadFile) (*UploadSelection, error) {
	selection := &UploadSelection{}
	rasters := 0
	for _, f := range files {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".tif", ".tiff":
			selection.Raster = f
			rasters++
		case ".zip":
			selection.Archives = append(selection.Archives, f)
		}
	}
	switch {
	case rasters == 0:
		return nil, apperrors.ErrRasterRequired
	case rasters > 1:
		return nil, apperrors.ErrMultipleRasters
	}
	return selection, nil
}

// ArchiveLabel derives the label given to every feature in an archive.
func ArchiveLabel(archiveName string) string {
	return strings.Replace(path.Base(archiveName), ".zip", "", 1)
}

type uploadService struct {
	bucket         storage.Bucket
	parser         ShapefileParser
	entityRepo     repositories.EntityRepository
	annotationRepo repositories.AnnotationRepository
	statusLog      uploadlog.Store
	metrics        *metrics.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// NewUploadService creates a new UploadService.
func NewUploadService(
	bucket storage.Bucket,
	parser ShapefileParser,
	entityRepo repositories.EntityRepository,
	annotationRepo repositories.AnnotationRepository,
	statusLog uploadlog.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		bucket:         bucket,
		parser:         parser,
		entityRepo:     entityRepo,
		annotationRepo: annotationRepo,
		statusLog:      statusLog,
		metrics:        m,
		logger:         logger.Named("upload"),
		now:            time.Now,
	}
}

var _ UploadService = (*uploadService)(nil)

// uploadRun carries one ingestion's log.
type uploadRun struct {
	svc    *uploadService
	ctx    context.Context
	id     uuid.UUID
	lines  []string
	logger *zap.Logger
}

func (r *uploadRun) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.lines = append(r.lines, line)
	if err := r.svc.statusLog.Append(r.ctx, r.id, line); err != nil {
		r.logger.Warn("Failed to append upload status", zap.Error(err))
	}
}

func (s *uploadService) Ingest(ctx context.Context, who models.Identity, selection *UploadSelection) (result *UploadResult, err error) {
	if selection == nil || selection.Raster.Open == nil {
		return nil, apperrors.ErrRasterRequired
	}

	start := s.now()
	run := &uploadRun{svc: s, ctx: ctx, id: uuid.New()}
	run.logger = s.logger.With(zap.String("upload_id", run.id.String()))
	defer func() {
		s.metrics.ObserveUpload(err, float64(s.now().Sub(start).Milliseconds()))
		if err != nil {
			run.logf("Error: %v", err)
		}
	}()

	raster := selection.Raster
	run.logf("Uploading raster: %s", raster.Name)
	key := fmt.Sprintf("%d%s", start.UnixMilli(), path.Ext(raster.Name))
	if err := s.putRaster(ctx, key, raster); err != nil {
		return nil, err
	}
	url := s.bucket.PublicURL(key)

	run.logf("Creating image record...")
	name := raster.Name
	uploadedBy := who.Attribution()
	entity := &models.Entity{
		Kind:       models.EntityKindImage,
		Name:       &name,
		ImageURL:   &url,
		UploadedBy: &uploadedBy,
	}
	if err := s.entityRepo.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}
	run.logf("Created image record: ID = %s", entity.ID)

	result = &UploadResult{
		UploadID:  run.id,
		Entity:    entity,
		ObjectKey: key,
		Archives:  make([]ArchiveResult, 0, len(selection.Archives)),
	}

	if len(selection.Archives) == 0 {
		run.logf("No archives selected, no shapefiles to parse")
	}
	for _, archive := range selection.Archives {
		ar := s.ingestArchive(run, entity, archive)
		result.Archives = append(result.Archives, ar)
		result.Inserted += ar.Inserted
		result.Failed += ar.Failed
	}

	run.logf("Upload complete: %d features inserted, %d failed", result.Inserted, result.Failed)
	result.Log = run.lines

	run.logger.Info("Upload ingested",
		zap.String("entity_id", entity.ID.String()),
		zap.String("object_key", key),
		zap.Int("archives", len(selection.Archives)),
		zap.Int("inserted", result.Inserted),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *uploadService) putRaster(ctx context.Context, key string, raster UploadFile) error {
	rc, err := raster.Open()
	if err != nil {
		return fmt.Errorf("failed to open raster: %w", err)
	}
	defer rc.Close()

	if err := s.bucket.Put(ctx, key, rc); err != nil {
		return fmt.Errorf("failed to store raster: %w", err)
	}
	return nil
}

// ingestArchive never fails the upload. Each feature is inserted on its own,
// in order, and failures are logged and counted.
func (s *uploadService) ingestArchive(run *uploadRun, entity *models.Entity, archive UploadFile) ArchiveResult {
	ar := ArchiveResult{Name: archive.Name, Label: ArchiveLabel(archive.Name)}
	logger := run.logger.With(zap.String("archive", archive.Name))

	run.logf("Parsing archive: %s", archive.Name)
	data, err := readAll(archive)
	if err != nil {
		ar.Error = err.Error()
		s.metrics.ArchiveFailed()
		logger.Warn("Failed to read archive", zap.Error(err))
		run.logf("Error reading archive %s: %v", archive.Name, err)
		return ar
	}

	collections, err := s.parser.Parse(data)
	if err != nil {
		ar.Error = err.Error()
		logger.Warn("Archive parsed with errors", zap.Error(err))
		run.logf("Error parsing archive %s: %v", archive.Name, err)
		if len(collections) == 0 {
			s.metrics.ArchiveFailed()
			return ar
		}
	}

	entityID := entity.ID
	for _, fc := range collections {
		if fc.Features == nil {
			continue
		}
		ar.Layers++
		ar.Features += len(fc.Features.Features)
		run.logf("Found %d features in %s", len(fc.Features.Features), archive.Name)

		for i, feature := range fc.Features.Features {
			geometry, err := models.NewGeometry(feature.Geometry)
			if err == nil {
				_, err = s.annotationRepo.Create(run.ctx, &models.ComponentAnnotation{
					EntityID: &entityID,
					Label:    ar.Label,
					Geometry: geometry,
				})
			}
			s.metrics.ObserveFeature(err)
			if err != nil {
				ar.Failed++
				logger.Warn("Failed to insert feature",
					zap.String("layer", fc.Name),
					zap.Int("feature_index", i),
					zap.Error(err))
				run.logf("Error inserting feature %d of %s: %v", i, archive.Name, err)
				continue
			}
			ar.Inserted++
		}
	}
	return ar
}

func readAll(f UploadFile) ([]byte, error) {
	if f.Open == nil {
		return nil, fmt.Errorf("file %s cannot be opened", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *uploadService) Log(ctx context.Context, uploadID uuid.UUID) ([]string, error) {
	lines, err := s.statusLog.Lines(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return lines, nil
}
