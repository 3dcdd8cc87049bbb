package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/mapview"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
)

const (
	testBoundary = `{"type":"Polygon","coordinates":[[[-95.01,40.01],[-95.00,40.01],[-95.00,40.02],[-95.01,40.02],[-95.01,40.01]]]}`
	testDrawn    = `{"type":"Polygon","coordinates":[[[-95.008,40.012],[-95.006,40.012],[-95.006,40.014],[-95.008,40.012]]]}`
	testLine     = `{"type":"LineString","coordinates":[[-95.009,40.011],[-95.002,40.018]]}`
)

var alice = models.Identity{Subject: "user-1", DisplayName: "alice@example.com"}

type sessionFixture struct {
	svc         SessionService
	entities    *mockEntityRepo
	annotations *mockAnnotationRepo
	older       *models.Entity
	newer       *models.Entity
}

func newSessionFixture(t *testing.T, strict bool, annotations ...*models.ComponentAnnotation) *sessionFixture {
	t.Helper()

	older := &models.Entity{ID: uuid.New(), ExternalID: strPtr("w100"), Boundary: models.Geometry(testBoundary)}
	newer := &models.Entity{ID: uuid.New(), ExternalID: strPtr("w200"), Boundary: models.Geometry(testBoundary)}
	entities := newMockEntityRepo(older, newer)
	annotationRepo := newMockAnnotationRepo(annotations...)

	cat := catalog.Default()
	svc := NewSessionService(
		entities,
		annotationRepo,
		cat,
		mapview.NewBuilder(cat, mapview.DefaultOptions()),
		nil,
		SessionOptions{StrictCompletion: strict, TTL: time.Hour},
		zap.NewNop(),
	)
	return &sessionFixture{svc: svc, entities: entities, annotations: annotationRepo, older: older, newer: newer}
}

func strPtr(s string) *string { return &s }

func TestSession_OpenSelectsNewestIncomplete(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	view, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, StateEntityLoaded, view.State)
	require.Len(t, view.Queue, 2)
	assert.Equal(t, f.newer.ID, view.Queue[0].ID)
	require.NotNil(t, view.Entity)
	assert.Equal(t, f.newer.ID, view.Entity.ID)
	assert.True(t, view.Classification.NeedsAttention)
	assert.True(t, view.Scene.View.Fit, "boundary drives the fitted view")

	boundary, ok := mapview.FindFeature(view.Scene.Features, "boundary-"+f.newer.ID.String())
	require.True(t, ok)
	assert.False(t, boundary.Clickable)
	assert.Equal(t, "red", boundary.Style.Color)
}

func TestSession_OpenWithEmptyQueue(t *testing.T) {
	cat := catalog.Default()
	svc := NewSessionService(newMockEntityRepo(), newMockAnnotationRepo(), cat,
		mapview.NewBuilder(cat, mapview.DefaultOptions()), nil, SessionOptions{}, zap.NewNop())

	view, err := svc.Open(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, StateNoEntitySelected, view.State)
	assert.Nil(t, view.Entity)
	assert.Empty(t, view.Queue)
	assert.False(t, view.Scene.View.Fit)
	assert.Equal(t, 4, view.Scene.View.Zoom)
}

func TestSession_SelectIncludesUnassignedAnnotations(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	assigned := &models.ComponentAnnotation{EntityID: &f.older.ID, Label: "Bus bar", Geometry: models.Geometry(testLine), CreatedAt: time.Now()}
	unassigned := &models.ComponentAnnotation{Label: "Recloser", Geometry: models.Geometry(testDrawn), CreatedAt: time.Now().Add(time.Second)}
	other := &models.ComponentAnnotation{EntityID: &f.newer.ID, Label: "Muffle", Geometry: models.Geometry(testDrawn)}
	f.annotations = newMockAnnotationRepo(assigned, unassigned, other)
	f.svc.(*sessionService).annotationRepo = f.annotations

	view, err := f.svc.Select(ctx, alice, f.older.ID)
	require.NoError(t, err)
	require.Len(t, view.Annotations, 2)
	assert.Equal(t, "Bus bar", view.Annotations[0].Label)
	assert.Equal(t, "Recloser", view.Annotations[1].Label)
	assert.Len(t, view.Scene.Features, 3, "boundary plus two annotations")
}

func TestSession_SelectUnknownOrCompletedEntity(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Select(ctx, alice, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	f.older.Completed = true
	_, err = f.svc.Select(ctx, alice, f.older.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSession_SelectDiscardsOpenDialog(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	view, err := f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)
	require.NotNil(t, view.Dialog)

	view, err = f.svc.Select(ctx, alice, f.older.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEntityLoaded, view.State)
	assert.Nil(t, view.Dialog)
}

func TestSession_DrawAndSaveInsertsOneConfirmedRow(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	before, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	view, err := f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)
	assert.Equal(t, StateDialogOpen, view.State)
	require.NotNil(t, view.Dialog)
	assert.Equal(t, DialogCreate, view.Dialog.Mode)
	assert.True(t, view.Dialog.Annotation.Ref.IsUnsaved())

	pending, ok := mapview.FindFeature(view.Scene.Features, view.Dialog.Annotation.Ref.Key())
	require.True(t, ok, "the drawn shape is displayed while the dialog is open")
	assert.Equal(t, "yellow", pending.Style.Color)

	_, err = f.svc.ToggleOption(ctx, alice, "Power Transformer")
	require.NoError(t, err)
	_, err = f.svc.ToggleOption(ctx, alice, "Bus bar")
	require.NoError(t, err)

	view, err = f.svc.SaveDialog(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, 1, f.annotations.creates)
	assert.Equal(t, 1, f.annotations.count())
	assert.Equal(t, StateEntityLoaded, view.State)
	assert.Nil(t, view.Dialog)
	require.Len(t, view.Annotations, len(before.Annotations)+1)

	saved := view.Annotations[len(view.Annotations)-1]
	assert.True(t, saved.Ref.IsPersisted())
	assert.True(t, saved.Confirmed)
	assert.Equal(t, "Power Transformer", saved.Label, "first checked option wins")
	assert.JSONEq(t, testDrawn, string(saved.Geometry))
	require.NotNil(t, saved.EntityID)
	assert.Equal(t, f.newer.ID, *saved.EntityID)
	assert.Equal(t, "w200", *saved.EntityExternalID)
	assert.Equal(t, "alice@example.com", *saved.CreatedBy)

	require.Len(t, view.Summary, 1)
	assert.Equal(t, models.ComponentSummaryRow{Label: "Power Transformer", Total: 1, Confirmed: 1}, view.Summary[0])
}

func TestSession_SaveLabelFallsBackToTrimmedText(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)
	_, err = f.svc.UpdateDialog(ctx, alice, nil, "  grounding grid  ")
	require.NoError(t, err)

	view, err := f.svc.SaveDialog(ctx, alice)
	require.NoError(t, err)
	require.Len(t, view.Annotations, 1)
	assert.Equal(t, "grounding grid", view.Annotations[0].Label)
}

func TestSession_EditFreeTextUpdatesInPlace(t *testing.T) {
	existing := &models.ComponentAnnotation{Label: "odd gadget", Geometry: models.Geometry(testDrawn)}
	f := newSessionFixture(t, true, existing)
	ctx := context.Background()
	existing.EntityID = &f.newer.ID
	existingID, _ := existing.Ref.ID()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	view, err := f.svc.Click(ctx, alice, existing.Ref.Key())
	require.NoError(t, err)
	require.NotNil(t, view.Dialog)
	assert.Equal(t, DialogEdit, view.Dialog.Mode)
	assert.Empty(t, view.Dialog.Selected)
	assert.Equal(t, "odd gadget", view.Dialog.OtherText)

	_, err = f.svc.UpdateDialog(ctx, alice, nil, "strange gadget")
	require.NoError(t, err)
	view, err = f.svc.SaveDialog(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, 0, f.annotations.creates)
	assert.Equal(t, 1, f.annotations.updates)
	assert.Equal(t, 1, f.annotations.count())
	require.Len(t, view.Annotations, 1)
	id, ok := view.Annotations[0].Ref.ID()
	require.True(t, ok)
	assert.Equal(t, existingID, id)
	assert.Equal(t, "strange gadget", view.Annotations[0].Label)
	assert.True(t, view.Annotations[0].Confirmed)
}

func TestSession_ClickKnownLabelPreselects(t *testing.T) {
	existing := &models.ComponentAnnotation{Label: "Recloser", Geometry: models.Geometry(testLine)}
	f := newSessionFixture(t, true, existing)
	existing.EntityID = &f.newer.ID
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	view, err := f.svc.Click(ctx, alice, existing.Ref.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"Recloser"}, view.Dialog.Selected)
	assert.Empty(t, view.Dialog.OtherText)
}

func TestSession_ClickBoundaryAndUnknownFeature(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Click(ctx, alice, "anything")
	assert.ErrorIs(t, err, apperrors.ErrNoEntitySelected)

	_, err = f.svc.Open(ctx, alice)
	require.NoError(t, err)

	_, err = f.svc.Click(ctx, alice, "boundary-"+f.newer.ID.String())
	assert.ErrorIs(t, err, apperrors.ErrNotClickable)

	_, err = f.svc.Click(ctx, alice, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSession_DeleteUnsavedIsLocal(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)

	calls := f.annotations.calls
	view, err := f.svc.DeleteDialog(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, calls, f.annotations.calls, "no remote call for an unsaved annotation")
	assert.Equal(t, StateEntityLoaded, view.State)
	assert.Empty(t, view.Annotations)
	assert.Len(t, view.Scene.Features, 1, "only the boundary remains")
}

func TestSession_DeletePersisted(t *testing.T) {
	existing := &models.ComponentAnnotation{Label: "Bus bar", Geometry: models.Geometry(testLine)}
	f := newSessionFixture(t, true, existing)
	existing.EntityID = &f.newer.ID
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Click(ctx, alice, existing.Ref.Key())
	require.NoError(t, err)

	view, err := f.svc.DeleteDialog(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, f.annotations.deletes)
	assert.Empty(t, view.Annotations)
	assert.Zero(t, f.annotations.count())
}

func TestSession_FailedWriteLeavesStateUnchanged(t *testing.T) {
	existing := &models.ComponentAnnotation{Label: "Bus bar", Geometry: models.Geometry(testLine)}
	f := newSessionFixture(t, true, existing)
	existing.EntityID = &f.newer.ID
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Click(ctx, alice, existing.Ref.Key())
	require.NoError(t, err)

	f.annotations.deleteErr = errors.New("connection reset")
	_, err = f.svc.DeleteDialog(ctx, alice)
	require.Error(t, err)

	view, err := f.svc.View(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StateDialogOpen, view.State)
	assert.Len(t, view.Annotations, 1)

	f.annotations.updateErr = errors.New("connection reset")
	_, err = f.svc.UpdateDialog(ctx, alice, []string{"Muffle"}, "")
	require.NoError(t, err)
	_, err = f.svc.SaveDialog(ctx, alice)
	require.Error(t, err)

	view, err = f.svc.View(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Bus bar", view.Annotations[0].Label)
	require.NotNil(t, view.Dialog)
}

func TestSession_DialogOperationsRequireDialog(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	_, err = f.svc.SaveDialog(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrNoDialog)
	_, err = f.svc.DeleteDialog(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrNoDialog)
	_, err = f.svc.CancelDialog(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrNoDialog)
	_, err = f.svc.ToggleOption(ctx, alice, "Muffle")
	assert.ErrorIs(t, err, apperrors.ErrNoDialog)

	_, err = f.svc.ToggleOption(ctx, alice, "Flux capacitor")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSession_DrawValidation(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	assert.ErrorIs(t, err, apperrors.ErrNoEntitySelected)

	_, err = f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, alice, models.Geometry(`{"type":"MultiPoint","coordinates":[[1,2]]}`))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	for _, malformed := range []string{
		`{"type":"Point","coordinates":[]}`,
		`{"type":"Polygon","coordinates":[[[]]]}`,
		`{"type":"Polygon","coordinates":[[[1]]]}`,
	} {
		_, err = f.svc.Draw(ctx, alice, models.Geometry(malformed))
		assert.ErrorIs(t, err, apperrors.ErrValidation, malformed)
	}
	view, err := f.svc.View(ctx, alice)
	require.NoError(t, err)
	assert.Nil(t, view.Dialog)

	_, err = f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSession_MarkCompleteWithoutClassificationMakesNoCalls(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	entityCalls, annotationCalls := f.entities.calls, f.annotations.calls
	_, err = f.svc.MarkComplete(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrClassificationRequired)
	assert.Equal(t, entityCalls, f.entities.calls)
	assert.Equal(t, annotationCalls, f.annotations.calls)

	view, err := f.svc.View(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, view.Queue, 2)
	assert.Equal(t, f.newer.ID, view.Entity.ID)
	assert.False(t, f.newer.Completed)
}

func TestSession_MarkCompleteRejectsOtherWithoutText(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	view, err := f.svc.SetClassification(ctx, alice, "Other", "   ")
	require.NoError(t, err)
	assert.True(t, view.Classification.NeedsAttention)

	_, err = f.svc.MarkComplete(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrClassificationRequired)
}

func TestSession_MarkCompleteRemovesFromQueue(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.SetClassification(ctx, alice, "Distribution", "")
	require.NoError(t, err)

	view, err := f.svc.MarkComplete(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StateEntityCompleted, view.State)
	assert.Nil(t, view.Entity)
	require.Len(t, view.Queue, 1)
	assert.Equal(t, f.older.ID, view.Queue[0].ID)
	require.NotNil(t, view.LastCompletedID)
	assert.Equal(t, f.newer.ID, *view.LastCompletedID)

	stored := f.entities.entities[f.newer.ID]
	assert.True(t, stored.Completed)
	assert.Equal(t, "alice@example.com", *stored.CompletedBy)

	_, err = f.svc.MarkComplete(ctx, alice)
	assert.ErrorIs(t, err, apperrors.ErrNoEntitySelected)
}

func TestSession_MarkCompleteLenientAllowsEmptyClassification(t *testing.T) {
	f := newSessionFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	view, err := f.svc.MarkComplete(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StateEntityCompleted, view.State)
}

func TestSession_MarkCompleteFailureKeepsEntity(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.SetClassification(ctx, alice, "Transmission", "")
	require.NoError(t, err)

	f.entities.completeErr = errors.New("timeout")
	_, err = f.svc.MarkComplete(ctx, alice)
	require.Error(t, err)

	view, err := f.svc.View(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, StateEntityLoaded, view.State)
	assert.Len(t, view.Queue, 2)
}

func TestSession_SetClassification(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)

	t.Run("enumeration value persists", func(t *testing.T) {
		view, err := f.svc.SetClassification(ctx, alice, "Transmission", "")
		require.NoError(t, err)
		assert.Equal(t, "Transmission", view.Entity.ClassificationValue())
		assert.False(t, view.Classification.NeedsAttention)
	})

	t.Run("other persists trimmed text", func(t *testing.T) {
		view, err := f.svc.SetClassification(ctx, alice, "Other", "  solar farm tie ")
		require.NoError(t, err)
		assert.Equal(t, "solar farm tie", view.Entity.ClassificationValue())
		assert.Equal(t, "Other", view.Classification.Selected)
	})

	t.Run("empty value writes nothing", func(t *testing.T) {
		calls := f.entities.calls
		view, err := f.svc.SetClassification(ctx, alice, "", "")
		require.NoError(t, err)
		assert.Equal(t, calls, f.entities.calls)
		assert.True(t, view.Classification.NeedsAttention)
		assert.Equal(t, "solar farm tie", view.Entity.ClassificationValue())
	})

	t.Run("unknown value rejected", func(t *testing.T) {
		_, err := f.svc.SetClassification(ctx, alice, "Nuclear", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestSession_StoredFreeTextClassificationLoadsAsOther(t *testing.T) {
	f := newSessionFixture(t, true)
	f.newer.Classification = strPtr("Collector")

	view, err := f.svc.Open(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "Other", view.Classification.Selected)
	assert.Equal(t, "Collector", view.Classification.OtherText)
	assert.False(t, view.Classification.NeedsAttention)
}

func TestSession_SessionsAreIsolatedPerUser(t *testing.T) {
	f := newSessionFixture(t, true)
	ctx := context.Background()
	bob := models.Identity{Subject: "user-2"}

	_, err := f.svc.Open(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Draw(ctx, alice, models.Geometry(testDrawn))
	require.NoError(t, err)

	view, err := f.svc.View(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, StateNoEntitySelected, view.State)
	assert.Nil(t, view.Dialog)
}

func TestSummarizeComponents(t *testing.T) {
	rows := SummarizeComponents([]models.ComponentAnnotation{
		{Label: "Recloser", Confirmed: true},
		{Label: "Bus bar"},
		{Label: "Recloser"},
		{Label: ""},
		{Label: "Bus bar", Confirmed: true},
	})
	assert.Equal(t, []models.ComponentSummaryRow{
		{Label: "Bus bar", Total: 2, Confirmed: 1},
		{Label: "Recloser", Total: 2, Confirmed: 1},
	}, rows)
}
