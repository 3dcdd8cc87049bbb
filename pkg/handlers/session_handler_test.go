package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

func newSessionHandler(svc *mockSessionService) *SessionHandler {
	return NewSessionHandler(svc, zap.NewNop())
}

func decodeSessionView(t *testing.T, rec *httptest.ResponseRecorder) *services.SessionView {
	t.Helper()
	var resp struct {
		Success bool                  `json:"success"`
		Data    *services.SessionView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success)
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSessionHandler_Open_PassesIdentity(t *testing.T) {
	svc := &mockSessionService{view: &services.SessionView{State: services.StateEntityLoaded}}
	h := newSessionHandler(svc)

	rec := httptest.NewRecorder()
	h.Open(rec, withAlice(httptest.NewRequest(http.MethodPost, "/api/session", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Open", svc.lastMethod)
	assert.Equal(t, "user-alice", svc.lastWho.Subject)
	assert.Equal(t, "alice@example.com", svc.lastWho.DisplayName)
	assert.Equal(t, services.StateEntityLoaded, decodeSessionView(t, rec).State)
}

func TestSessionHandler_RequiresIdentity(t *testing.T) {
	svc := &mockSessionService{}
	h := newSessionHandler(svc)

	rec := httptest.NewRecorder()
	h.View(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.lastMethod)
}

func TestSessionHandler_Select(t *testing.T) {
	svc := &mockSessionService{}
	h := newSessionHandler(svc)
	entityID := uuid.New()

	req := withAlice(httptest.NewRequest(http.MethodPost, "/api/session/select/"+entityID.String(), nil))
	req.SetPathValue("entityId", entityID.String())
	rec := httptest.NewRecorder()
	h.Select(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entityID, svc.lastEntityID)
}

func TestSessionHandler_Select_InvalidID(t *testing.T) {
	svc := &mockSessionService{}
	h := newSessionHandler(svc)

	req := withAlice(httptest.NewRequest(http.MethodPost, "/api/session/select/nope", nil))
	req.SetPathValue("entityId", "nope")
	rec := httptest.NewRecorder()
	h.Select(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_entity_id", decodeError(t, rec)["error"])
	assert.Empty(t, svc.lastMethod)
}

func TestSessionHandler_Draw(t *testing.T) {
	polygon := `{"type":"Polygon","coordinates":[[[-95,40],[-94,40],[-94,41],[-95,40]]]}`

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"bare geometry", polygon, http.StatusOK, "Polygon"},
		{"feature wrapper", `{"type":"Feature","properties":{},"geometry":` + polygon + `}`, http.StatusOK, "Polygon"},
		{"feature without geometry", `{"type":"Feature","geometry":null}`, http.StatusBadRequest, ""},
		{"null body", `null`, http.StatusBadRequest, ""},
		{"not json", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSessionService{}
			h := newSessionHandler(svc)

			req := withAlice(httptest.NewRequest(http.MethodPost, "/api/session/draw", bytes.NewBufferString(tt.body)))
			rec := httptest.NewRecorder()
			h.Draw(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantKind != "" {
				assert.Equal(t, "Draw", svc.lastMethod)
				assert.Equal(t, tt.wantKind, svc.lastGeometry.Kind())
			} else {
				assert.Empty(t, svc.lastMethod)
			}
		})
	}
}

func TestSessionHandler_Click_UsesFeatureKey(t *testing.T) {
	svc := &mockSessionService{}
	h := newSessionHandler(svc)

	req := withAlice(httptest.NewRequest(http.MethodPost, "/api/session/features/abc/click", nil))
	req.SetPathValue("key", "abc")
	rec := httptest.NewRecorder()
	h.Click(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", svc.lastKey)
}

func TestSessionHandler_DialogBodies(t *testing.T) {
	svc := &mockSessionService{}
	h := newSessionHandler(svc)

	rec := httptest.NewRecorder()
	h.UpdateDialog(rec, withAlice(httptest.NewRequest(http.MethodPut, "/api/session/dialog",
		bytes.NewBufferString(`{"selected":["Transformer"],"other_text":"spare"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Transformer"}, svc.lastSelected)
	assert.Equal(t, "spare", svc.lastOtherText)

	rec = httptest.NewRecorder()
	h.ToggleOption(rec, withAlice(httptest.NewRequest(http.MethodPost, "/api/session/dialog/toggle",
		bytes.NewBufferString(`{"option":"Switch"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Switch", svc.lastOption)

	rec = httptest.NewRecorder()
	h.SetClassification(rec, withAlice(httptest.NewRequest(http.MethodPut, "/api/session/classification",
		bytes.NewBufferString(`{"value":"Other","other_text":"  hydro  "}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Other", svc.lastValue)
	assert.Equal(t, "  hydro  ", svc.lastOtherText)
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		call       func(h *SessionHandler, w http.ResponseWriter, r *http.Request)
		wantStatus int
		wantCode   string
	}{
		{"complete without classification", apperrors.ErrClassificationRequired, (*SessionHandler).MarkComplete, http.StatusConflict, "classification_required"},
		{"save with no dialog", apperrors.ErrNoDialog, (*SessionHandler).SaveDialog, http.StatusConflict, "no_dialog"},
		{"delete with no entity", apperrors.ErrNoEntitySelected, (*SessionHandler).DeleteDialog, http.StatusConflict, "no_entity_selected"},
		{"cancel on missing entity", apperrors.ErrNotFound, (*SessionHandler).CancelDialog, http.StatusNotFound, "not_found"},
		{"remote write failed", assert.AnError, (*SessionHandler).SaveDialog, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSessionService{err: tt.err}
			h := newSessionHandler(svc)

			rec := httptest.NewRecorder()
			tt.call(h, rec, withAlice(httptest.NewRequest(http.MethodPost, "/api/session", nil)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec)["error"])
		})
	}
}
