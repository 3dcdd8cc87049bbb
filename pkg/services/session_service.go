package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/mapview"
	"github.com/ekaya-inc/substation-labeler/pkg/metrics"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
)

// SessionState is the annotation session's position in its state machine.
type SessionState string

const (
	StateNoEntitySelected SessionState = "no-entity-selected"
	StateEntityLoaded     SessionState = "entity-loaded"
	StateDialogOpen       SessionState = "dialog-open"
	StateEntityCompleted  SessionState = "entity-completed"
)

// DialogMode says whether the open dialog creates or edits an annotation.
type DialogMode string

const (
	DialogCreate DialogMode = "create"
	DialogEdit   DialogMode = "edit"
)

// Dialog is the single annotation being created or edited.
type Dialog struct {
	Mode       DialogMode                 `json:"mode"`
	Annotation models.ComponentAnnotation `json:"annotation"`
	Selected   []string                   `json:"selected"`
	OtherText  string                     `json:"other_text"`
}

// Label is the label a save would write: the first checked option,
// else the trimmed free text, else empty.
func (d *Dialog) Label() string {
	if len(d.Selected) > 0 {
		return d.Selected[0]
	}
	return strings.TrimSpace(d.OtherText)
}

// ClassificationState is the classification control for the selected entity.
// Selected is an enumeration value; OtherText holds free text when Selected is "Other".
type ClassificationState struct {
	Selected       string `json:"selected"`
	OtherText      string `json:"other_text"`
	NeedsAttention bool   `json:"needs_attention"`
}

// SessionView is a snapshot of one user's annotation session.
type SessionView struct {
	State           SessionState                 `json:"state"`
	Queue           []*models.Entity             `json:"queue"`
	Entity          *models.Entity               `json:"entity,omitempty"`
	Annotations     []models.ComponentAnnotation `json:"annotations"`
	Classification  ClassificationState          `json:"classification"`
	Dialog          *Dialog                      `json:"dialog,omitempty"`
	Scene           mapview.Scene                `json:"scene"`
	Summary         []models.ComponentSummaryRow `json:"summary"`
	LastCompletedID *uuid.UUID                   `json:"last_completed_id,omitempty"`
}

// SessionService drives the per-user annotation workflow over the active queue.
// Every remote write happens before local state changes, so a failed write
// leaves the session exactly as it was.
type SessionService interface {
	// Open loads the queue of incomplete entities and selects the newest.
	Open(ctx context.Context, who models.Identity) (*SessionView, error)
	// Select loads an entity and its annotations, discarding any open dialog.
	Select(ctx context.Context, who models.Identity, entityID uuid.UUID) (*SessionView, error)
	// Draw opens a create dialog for a newly drawn shape.
	Draw(ctx context.Context, who models.Identity, geometry models.Geometry) (*SessionView, error)
	// Click opens an edit dialog for the rendered feature with the given key.
	Click(ctx context.Context, who models.Identity, featureKey string) (*SessionView, error)
	UpdateDialog(ctx context.Context, who models.Identity, selected []string, otherText string) (*SessionView, error)
	ToggleOption(ctx context.Context, who models.Identity, option string) (*SessionView, error)
	SaveDialog(ctx context.Context, who models.Identity) (*SessionView, error)
	DeleteDialog(ctx context.Context, who models.Identity) (*SessionView, error)
	CancelDialog(ctx context.Context, who models.Identity) (*SessionView, error)
	SetClassification(ctx context.Context, who models.Identity, value, otherText string) (*SessionView, error)
	// MarkComplete flags the selected entity complete and drops it from the queue.
	MarkComplete(ctx context.Context, who models.Identity) (*SessionView, error)
	View(ctx context.Context, who models.Identity) (*SessionView, error)
}

// SessionOptions configures session behavior.
type SessionOptions struct {
	// StrictCompletion requires a classification before completion.
	StrictCompletion bool
	// TTL is how long an idle session is kept.
	TTL time.Duration
}

type annotationSession struct {
	mu sync.Mutex

	state          SessionState
	queue          []*models.Entity
	entity         *models.Entity
	annotations    []models.ComponentAnnotation
	classification ClassificationState
	dialog         *Dialog
	lastCompleted  *uuid.UUID
}

type sessionService struct {
	entityRepo     repositories.EntityRepository
	annotationRepo repositories.AnnotationRepository
	catalog        *catalog.Catalog
	builder        *mapview.Builder
	metrics        *metrics.Metrics
	opts           SessionOptions
	logger         *zap.Logger

	createMu sync.Mutex
	sessions *cache.Cache
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	entityRepo repositories.EntityRepository,
	annotationRepo repositories.AnnotationRepository,
	cat *catalog.Catalog,
	builder *mapview.Builder,
	m *metrics.Metrics,
	opts SessionOptions,
	logger *zap.Logger,
) SessionService {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	return &sessionService{
		entityRepo:     entityRepo,
		annotationRepo: annotationRepo,
		catalog:        cat,
		builder:        builder,
		metrics:        m,
		opts:           opts,
		logger:         logger.Named("session"),
		sessions:       cache.New(opts.TTL, opts.TTL/2+time.Minute),
	}
}

var _ SessionService = (*sessionService)(nil)

// session returns the caller's session, creating it on first use.
// Every access refreshes the idle expiry.
func (s *sessionService) session(who models.Identity) *annotationSession {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if v, ok := s.sessions.Get(who.Subject); ok {
		sess := v.(*annotationSession)
		s.sessions.SetDefault(who.Subject, sess)
		return sess
	}
	sess := &annotationSession{state: StateNoEntitySelected}
	s.sessions.SetDefault(who.Subject, sess)
	return sess
}

func (s *sessionService) Open(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)

	incomplete := false
	queue, err := s.entityRepo.List(ctx, models.EntityFilter{Completed: &incomplete})
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	var (
		first       *models.Entity
		annotations []*models.ComponentAnnotation
	)
	if len(queue) > 0 {
		first = queue[0]
		annotations, err = s.annotationRepo.ListForEntity(ctx, first.ID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to load annotations: %w", err)
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.queue = queue
	if first == nil {
		sess.clearSelection(StateNoEntitySelected)
	} else {
		s.load(sess, first, annotations)
	}
	return s.view(sess), nil
}

func (s *sessionService) Select(ctx context.Context, who models.Identity, entityID uuid.UUID) (*SessionView, error) {
	sess := s.session(who)

	// Fetches run unlocked. Overlapping selections resolve in arrival order.
	entity, err := s.entityRepo.GetByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if entity == nil {
		return nil, apperrors.ErrNotFound
	}
	if entity.Completed {
		return nil, fmt.Errorf("%w: entity %s is already complete", apperrors.ErrConflict, entityID)
	}
	annotations, err := s.annotationRepo.ListForEntity(ctx, entityID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	s.load(sess, entity, annotations)
	return s.view(sess), nil
}

func (s *sessionService) Draw(ctx context.Context, who models.Identity, geometry models.Geometry) (*SessionView, error) {
	switch geometry.Kind() {
	case models.GeometryPolygon, models.GeometryLineString, models.GeometryPoint:
	default:
		return nil, fmt.Errorf("%w: drawn shape must be a Polygon, LineString or Point", apperrors.ErrValidation)
	}
	if _, err := geometry.Decode(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.entity == nil {
		return nil, apperrors.ErrNoEntitySelected
	}
	if sess.dialog != nil {
		return nil, fmt.Errorf("%w: a dialog is already open", apperrors.ErrConflict)
	}

	entityID := sess.entity.ID
	sess.dialog = &Dialog{
		Mode: DialogCreate,
		Annotation: models.ComponentAnnotation{
			Ref:              models.Unsaved(uuid.NewString()),
			EntityID:         &entityID,
			EntityExternalID: sess.entity.ExternalID,
			Geometry:         geometry,
			CreatedAt:        time.Now().UTC(),
		},
		Selected: []string{},
	}
	sess.state = StateDialogOpen
	return s.view(sess), nil
}

func (s *sessionService) Click(ctx context.Context, who models.Identity, featureKey string) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.entity == nil {
		return nil, apperrors.ErrNoEntitySelected
	}
	if sess.dialog != nil {
		return nil, fmt.Errorf("%w: a dialog is already open", apperrors.ErrConflict)
	}

	scene := s.scene(sess)
	feature, ok := mapview.FindFeature(scene.Features, featureKey)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if !feature.Click() {
		return nil, apperrors.ErrNotClickable
	}
	return s.view(sess), nil
}

// openEdit is the renderer's click callback.
func (s *sessionService) openEdit(sess *annotationSession, record models.ComponentAnnotation) {
	dialog := &Dialog{Mode: DialogEdit, Annotation: record, Selected: []string{}}
	if s.catalog.IsComponent(record.Label) {
		dialog.Selected = []string{record.Label}
	} else {
		dialog.OtherText = record.Label
	}
	sess.dialog = dialog
	sess.state = StateDialogOpen
}

func (s *sessionService) UpdateDialog(ctx context.Context, who models.Identity, selected []string, otherText string) (*SessionView, error) {
	cleaned := make([]string, 0, len(selected))
	for _, option := range selected {
		if !s.catalog.IsComponent(option) {
			return nil, fmt.Errorf("%w: unknown component %q", apperrors.ErrValidation, option)
		}
		if !slices.Contains(cleaned, option) {
			cleaned = append(cleaned, option)
		}
	}

	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.dialog == nil {
		return nil, apperrors.ErrNoDialog
	}
	sess.dialog.Selected = cleaned
	sess.dialog.OtherText = otherText
	return s.view(sess), nil
}

func (s *sessionService) ToggleOption(ctx context.Context, who models.Identity, option string) (*SessionView, error) {
	if !s.catalog.IsComponent(option) {
		return nil, fmt.Errorf("%w: unknown component %q", apperrors.ErrValidation, option)
	}

	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.dialog == nil {
		return nil, apperrors.ErrNoDialog
	}
	if i := slices.Index(sess.dialog.Selected, option); i >= 0 {
		sess.dialog.Selected = slices.Delete(slices.Clone(sess.dialog.Selected), i, i+1)
	} else {
		sess.dialog.Selected = append(slices.Clone(sess.dialog.Selected), option)
	}
	return s.view(sess), nil
}

func (s *sessionService) SaveDialog(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.dialog == nil {
		return nil, apperrors.ErrNoDialog
	}
	if sess.entity == nil {
		return nil, apperrors.ErrNoEntitySelected
	}

	entityID := sess.entity.ID
	payload := sess.dialog.Annotation
	payload.EntityID = &entityID
	if payload.EntityExternalID == nil {
		payload.EntityExternalID = sess.entity.ExternalID
	}
	payload.Label = sess.dialog.Label()
	payload.Confirmed = true

	if sess.dialog.Mode == DialogCreate {
		attribution := who.Attribution()
		payload.CreatedBy = &attribution

		created, err := s.annotationRepo.Create(ctx, &payload)
		s.metrics.ObserveAnnotationWrite("create", err)
		if err != nil {
			s.logger.Error("Failed to create annotation",
				zap.String("entity_id", entityID.String()),
				zap.Error(err))
			return nil, err
		}
		sess.annotations = append(sess.annotations, *created)
	} else {
		updated, err := s.annotationRepo.Update(ctx, &payload)
		s.metrics.ObserveAnnotationWrite("update", err)
		if err != nil {
			s.logger.Error("Failed to update annotation",
				zap.String("annotation", payload.Ref.Key()),
				zap.Error(err))
			return nil, err
		}
		for i := range sess.annotations {
			if sess.annotations[i].Ref == payload.Ref {
				sess.annotations[i] = *updated
			}
		}
	}

	sess.dialog = nil
	sess.state = StateEntityLoaded
	return s.view(sess), nil
}

func (s *sessionService) DeleteDialog(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.dialog == nil {
		return nil, apperrors.ErrNoDialog
	}

	ref := sess.dialog.Annotation.Ref
	if id, persisted := ref.ID(); persisted {
		err := s.annotationRepo.Delete(ctx, id)
		s.metrics.ObserveAnnotationWrite("delete", err)
		if err != nil {
			s.logger.Error("Failed to delete annotation",
				zap.String("annotation_id", id.String()),
				zap.Error(err))
			return nil, err
		}
		sess.annotations = slices.DeleteFunc(sess.annotations, func(a models.ComponentAnnotation) bool {
			return a.Ref == ref
		})
	}

	sess.closeDialog()
	return s.view(sess), nil
}

func (s *sessionService) CancelDialog(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.dialog == nil {
		return nil, apperrors.ErrNoDialog
	}
	sess.closeDialog()
	return s.view(sess), nil
}

func (s *sessionService) SetClassification(ctx context.Context, who models.Identity, value, otherText string) (*SessionView, error) {
	if value != "" && !s.catalog.IsClassification(value) {
		return nil, fmt.Errorf("%w: unknown classification %q", apperrors.ErrValidation, value)
	}

	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.entity == nil {
		return nil, apperrors.ErrNoEntitySelected
	}

	next := ClassificationState{Selected: value}
	if value == s.catalog.OtherClassification {
		next.OtherText = otherText
	}

	persist := value
	if value == s.catalog.OtherClassification {
		persist = strings.TrimSpace(otherText)
	}
	if persist == "" {
		// Nothing is written until a usable value is chosen.
		next.NeedsAttention = true
		sess.classification = next
		return s.view(sess), nil
	}

	updated, err := s.entityRepo.UpdateClassification(ctx, sess.entity.ID, &persist)
	if err != nil {
		s.logger.Error("Failed to update classification",
			zap.String("entity_id", sess.entity.ID.String()),
			zap.Error(err))
		return nil, err
	}

	sess.entity = updated
	for i, e := range sess.queue {
		if e.ID == updated.ID {
			sess.queue[i] = updated
		}
	}
	sess.classification = next
	return s.view(sess), nil
}

func (s *sessionService) MarkComplete(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.entity == nil {
		return nil, apperrors.ErrNoEntitySelected
	}
	if s.opts.StrictCompletion && s.effectiveClassification(sess.classification) == "" {
		return nil, apperrors.ErrClassificationRequired
	}

	entityID := sess.entity.ID
	if _, err := s.entityRepo.MarkCompleted(ctx, entityID, who.Attribution()); err != nil {
		s.logger.Error("Failed to mark entity complete",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		return nil, err
	}
	s.metrics.EntityCompleted()

	sess.queue = slices.DeleteFunc(slices.Clone(sess.queue), func(e *models.Entity) bool {
		return e.ID == entityID
	})
	sess.clearSelection(StateEntityCompleted)
	sess.lastCompleted = &entityID

	s.logger.Info("Entity completed",
		zap.String("entity_id", entityID.String()),
		zap.String("completed_by", who.Attribution()))
	return s.view(sess), nil
}

func (s *sessionService) View(ctx context.Context, who models.Identity) (*SessionView, error) {
	sess := s.session(who)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

func (s *sessionService) effectiveClassification(c ClassificationState) string {
	if c.Selected == s.catalog.OtherClassification {
		return strings.TrimSpace(c.OtherText)
	}
	return c.Selected
}

func (s *sessionService) load(sess *annotationSession, entity *models.Entity, annotations []*models.ComponentAnnotation) {
	sess.entity = entity
	sess.annotations = derefAnnotations(annotations)
	sess.dialog = nil
	sess.state = StateEntityLoaded

	selected, other := s.catalog.SplitClassification(entity.ClassificationValue())
	sess.classification = ClassificationState{Selected: selected, OtherText: other}
	sess.classification.NeedsAttention = s.effectiveClassification(sess.classification) == ""
}

func (sess *annotationSession) clearSelection(state SessionState) {
	sess.entity = nil
	sess.annotations = nil
	sess.dialog = nil
	sess.classification = ClassificationState{}
	sess.state = state
}

func (sess *annotationSession) closeDialog() {
	sess.dialog = nil
	if sess.entity != nil {
		sess.state = StateEntityLoaded
	} else {
		sess.state = StateNoEntitySelected
	}
}

// features is the displayed collection: the boundary, the loaded annotations,
// and the shape being created when a create dialog is open.
func (s *sessionService) features(sess *annotationSession) []mapview.Feature {
	if sess.entity == nil {
		return nil
	}
	features := make([]mapview.Feature, 0, len(sess.annotations)+2)
	if boundary, ok := mapview.BoundaryFeature(sess.entity, s.catalog); ok {
		features = append(features, boundary)
	}
	for i := range sess.annotations {
		features = append(features, mapview.FromAnnotation(&sess.annotations[i]))
	}
	if sess.dialog != nil && sess.dialog.Mode == DialogCreate {
		pending := sess.dialog.Annotation
		features = append(features, mapview.FromAnnotation(&pending))
	}
	return features
}

func (s *sessionService) scene(sess *annotationSession) mapview.Scene {
	return s.builder.Scene(s.features(sess), func(record models.ComponentAnnotation) {
		s.openEdit(sess, record)
	})
}

// view snapshots the session. Callers hold sess.mu.
func (s *sessionService) view(sess *annotationSession) *SessionView {
	v := &SessionView{
		State:          sess.state,
		Queue:          slices.Clone(sess.queue),
		Entity:         sess.entity,
		Annotations:    slices.Clone(sess.annotations),
		Classification: sess.classification,
		Scene:          s.scene(sess),
		Summary:        SummarizeComponents(sess.annotations),
	}
	if v.Queue == nil {
		v.Queue = []*models.Entity{}
	}
	if v.Annotations == nil {
		v.Annotations = []models.ComponentAnnotation{}
	}
	if sess.dialog != nil {
		d := *sess.dialog
		d.Selected = slices.Clone(d.Selected)
		v.Dialog = &d
	}
	if sess.lastCompleted != nil {
		id := *sess.lastCompleted
		v.LastCompletedID = &id
	}
	return v
}
