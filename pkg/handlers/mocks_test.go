package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// ============================================================================
// Mock Implementations for Handler Tests
// ============================================================================

// mockSessionService records the last call and returns a fixed view or error.
type mockSessionService struct {
	view *services.SessionView
	err  error

	lastMethod    string
	lastWho       models.Identity
	lastEntityID  uuid.UUID
	lastGeometry  models.Geometry
	lastKey       string
	lastSelected  []string
	lastOtherText string
	lastOption    string
	lastValue     string
}

func (m *mockSessionService) record(method string, who models.Identity) (*services.SessionView, error) {
	m.lastMethod = method
	m.lastWho = who
	if m.err != nil {
		return nil, m.err
	}
	if m.view != nil {
		return m.view, nil
	}
	return &services.SessionView{State: services.StateNoEntitySelected}, nil
}

func (m *mockSessionService) Open(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("Open", who)
}

func (m *mockSessionService) Select(ctx context.Context, who models.Identity, entityID uuid.UUID) (*services.SessionView, error) {
	m.lastEntityID = entityID
	return m.record("Select", who)
}

func (m *mockSessionService) Draw(ctx context.Context, who models.Identity, geometry models.Geometry) (*services.SessionView, error) {
	m.lastGeometry = geometry
	return m.record("Draw", who)
}

func (m *mockSessionService) Click(ctx context.Context, who models.Identity, featureKey string) (*services.SessionView, error) {
	m.lastKey = featureKey
	return m.record("Click", who)
}

func (m *mockSessionService) UpdateDialog(ctx context.Context, who models.Identity, selected []string, otherText string) (*services.SessionView, error) {
	m.lastSelected = selected
	m.lastOtherText = otherText
	return m.record("UpdateDialog", who)
}

func (m *mockSessionService) ToggleOption(ctx context.Context, who models.Identity, option string) (*services.SessionView, error) {
	m.lastOption = option
	return m.record("ToggleOption", who)
}

func (m *mockSessionService) SaveDialog(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("SaveDialog", who)
}

func (m *mockSessionService) DeleteDialog(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("DeleteDialog", who)
}

func (m *mockSessionService) CancelDialog(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("CancelDialog", who)
}

func (m *mockSessionService) SetClassification(ctx context.Context, who models.Identity, value, otherText string) (*services.SessionView, error) {
	m.lastValue = value
	m.lastOtherText = otherText
	return m.record("SetClassification", who)
}

func (m *mockSessionService) MarkComplete(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("MarkComplete", who)
}

func (m *mockSessionService) View(ctx context.Context, who models.Identity) (*services.SessionView, error) {
	return m.record("View", who)
}

type mockEntityService struct {
	items      []services.EntityListItem
	detail     *services.EntityDetail
	err        error
	lastFilter models.EntityFilter
}

func (m *mockEntityService) List(ctx context.Context, filter models.EntityFilter) ([]services.EntityListItem, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

func (m *mockEntityService) Get(ctx context.Context, id uuid.UUID) (*services.EntityDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

type mockUploadService struct {
	result        *services.UploadResult
	ingestErr     error
	lines         []string
	logErr        error
	lastSelection *services.UploadSelection
	lastWho       models.Identity
}

func (m *mockUploadService) Ingest(ctx context.Context, who models.Identity, selection *services.UploadSelection) (*services.UploadResult, error) {
	m.lastWho = who
	m.lastSelection = selection
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	return m.result, nil
}

func (m *mockUploadService) Log(ctx context.Context, uploadID uuid.UUID) ([]string, error) {
	if m.logErr != nil {
		return nil, m.logErr
	}
	return m.lines, nil
}

type mockExportService struct {
	exported []models.ExportedEntity
	err      error
}

func (m *mockExportService) Export(ctx context.Context) ([]models.ExportedEntity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.exported, nil
}

type mockPointService struct {
	point     *models.PointAnnotation
	points    []*models.PointAnnotation
	err       error
	lastInput services.PointInput
	deleted   []uuid.UUID
}

func (m *mockPointService) Create(ctx context.Context, who models.Identity, entityID uuid.UUID, input services.PointInput) (*models.PointAnnotation, error) {
	m.lastInput = input
	if m.err != nil {
		return nil, m.err
	}
	return m.point, nil
}

func (m *mockPointService) List(ctx context.Context, entityID uuid.UUID) ([]*models.PointAnnotation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.points, nil
}

func (m *mockPointService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

// ============================================================================
// Request helpers
// ============================================================================

// withAlice attaches the claims the auth middleware would set.
func withAlice(req *http.Request) *http.Request {
	claims := &auth.Claims{Email: "alice@example.com"}
	claims.Subject = "user-alice"
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}
