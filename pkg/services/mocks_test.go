package services

import (
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/shapefile"
)

// ============================================================================
// Mock Implementations for Service Tests
// ============================================================================

type mockEntityRepo struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*models.Entity
	order    []uuid.UUID

	createErr   error
	listErr     error
	classifyErr error
	completeErr error

	calls int
}

func newMockEntityRepo(entities ...*models.Entity) *mockEntityRepo {
	m := &mockEntityRepo{entities: make(map[uuid.UUID]*models.Entity)}
	for _, e := range entities {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		m.entities[e.ID] = e
		m.order = append(m.order, e.ID)
	}
	return m
}

func (m *mockEntityRepo) Create(ctx context.Context, entity *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createErr != nil {
		return m.createErr
	}
	entity.ID = uuid.New()
	entity.CreatedAt = time.Now()
	stored := *entity
	m.entities[entity.ID] = &stored
	m.order = append(m.order, entity.ID)
	return nil
}

func (m *mockEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	e, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

// List returns entities in reverse insertion order, matching newest first.
func (m *mockEntityRepo) List(ctx context.Context, filter models.EntityFilter) ([]*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.Entity, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.entities[m.order[i]]
		if filter.Completed != nil && e.Completed != *filter.Completed {
			continue
		}
		copied := *e
		result = append(result, &copied)
	}
	return result, nil
}

func (m *mockEntityRepo) UpdateClassification(ctx context.Context, id uuid.UUID, classification *string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.classifyErr != nil {
		return nil, m.classifyErr
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	e.Classification = classification
	copied := *e
	return &copied, nil
}

func (m *mockEntityRepo) MarkCompleted(ctx context.Context, id uuid.UUID, completedBy string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	now := time.Now()
	e.Completed = true
	e.CompletedBy = &completedBy
	e.CompletedAt = &now
	copied := *e
	return &copied, nil
}

type mockAnnotationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ComponentAnnotation

	createErr error
	updateErr error
	deleteErr error
	listErr   error
	// failCreate fails the nth Create call, counting from 1.
	failCreate map[int]error

	creates int
	updates int
	deletes int
	calls   int
}

func newMockAnnotationRepo(rows ...*models.ComponentAnnotation) *mockAnnotationRepo {
	m := &mockAnnotationRepo{rows: make(map[uuid.UUID]*models.ComponentAnnotation)}
	for _, r := range rows {
		if !r.Ref.IsPersisted() {
			r.Ref = models.Persisted(uuid.New())
		}
		id, _ := r.Ref.ID()
		m.rows[id] = r
	}
	return m
}

func (m *mockAnnotationRepo) Create(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if err := m.failCreate[m.creates]; err != nil {
		return nil, err
	}
	stored := *annotation
	stored.Ref = models.Persisted(uuid.New())
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	id, _ := stored.Ref.ID()
	m.rows[id] = &stored
	result := stored
	return &result, nil
}

func (m *mockAnnotationRepo) Update(ctx context.Context, annotation *models.ComponentAnnotation) (*models.ComponentAnnotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.updates++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	id, ok := annotation.Ref.ID()
	if !ok {
		return nil, errors.New("cannot update an unsaved annotation")
	}
	if _, exists := m.rows[id]; !exists {
		return nil, apperrors.ErrNotFound
	}
	stored := *annotation
	stored.UpdatedAt = time.Now()
	m.rows[id] = &stored
	result := stored
	return &result, nil
}

func (m *mockAnnotationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.deletes++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, exists := m.rows[id]; !exists {
		return apperrors.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *mockAnnotationRepo) ListForEntity(ctx context.Context, entityID uuid.UUID, includeUnassigned bool) ([]*models.ComponentAnnotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*models.ComponentAnnotation, 0)
	for _, r := range m.sorted() {
		if (r.EntityID != nil && *r.EntityID == entityID) || (includeUnassigned && r.EntityID == nil) {
			copied := *r
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockAnnotationRepo) ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.ComponentAnnotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	grouped := make(map[uuid.UUID][]*models.ComponentAnnotation)
	for _, r := range m.sorted() {
		if r.EntityID != nil && slices.Contains(entityIDs, *r.EntityID) {
			copied := *r
			grouped[*r.EntityID] = append(grouped[*r.EntityID], &copied)
		}
	}
	return grouped, nil
}

func (m *mockAnnotationRepo) sorted() []*models.ComponentAnnotation {
	rows := make([]*models.ComponentAnnotation, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows
}

func (m *mockAnnotationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type mockPointRepo struct {
	points    map[uuid.UUID]*models.PointAnnotation
	createErr error
	listErr   error
}

func newMockPointRepo() *mockPointRepo {
	return &mockPointRepo{points: make(map[uuid.UUID]*models.PointAnnotation)}
}

func (m *mockPointRepo) Create(ctx context.Context, point *models.PointAnnotation) error {
	if m.createErr != nil {
		return m.createErr
	}
	point.ID = uuid.New()
	point.CreatedAt = time.Now()
	m.points[point.ID] = point
	return nil
}

func (m *mockPointRepo) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error) {
	grouped, err := m.ListByEntities(ctx, []uuid.UUID{entityID})
	if err != nil {
		return nil, err
	}
	if grouped[entityID] == nil {
		return []*models.PointAnnotation{}, nil
	}
	return grouped[entityID], nil
}

func (m *mockPointRepo) ListByEntities(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]*models.PointAnnotation, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	grouped := make(map[uuid.UUID][]*models.PointAnnotation)
	for _, p := range m.points {
		if slices.Contains(entityIDs, p.EntityID) {
			grouped[p.EntityID] = append(grouped[p.EntityID], p)
		}
	}
	return grouped, nil
}

func (m *mockPointRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.points[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.points, id)
	return nil
}

type mockBucket struct {
	objects map[string][]byte
	putErr  error
}

func newMockBucket() *mockBucket {
	return &mockBucket{objects: make(map[string][]byte)}
}

func (m *mockBucket) Put(ctx context.Context, key string, r io.Reader) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *mockBucket) PublicURL(key string) string {
	return "https://files.example.com/images/" + key
}

func (m *mockBucket) Name() string { return "images" }

type mockParser struct {
	results map[string][]shapefile.Collection
	errs    map[string]error
	calls   int
}

// Parse keys results by archive content, which tests set to the archive name.
func (m *mockParser) Parse(data []byte) ([]shapefile.Collection, error) {
	m.calls++
	key := string(data)
	return m.results[key], m.errs[key]
}

type mockStatusLog struct {
	mu    sync.Mutex
	lines map[uuid.UUID][]string
}

func newMockStatusLog() *mockStatusLog {
	return &mockStatusLog{lines: make(map[uuid.UUID][]string)}
}

func (m *mockStatusLog) Append(ctx context.Context, uploadID uuid.UUID, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[uploadID] = append(m.lines[uploadID], line)
	return nil
}

func (m *mockStatusLog) Lines(ctx context.Context, uploadID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines[uploadID]...), nil
}
