package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// UpdateDialogRequest for PUT /api/session/dialog
type UpdateDialogRequest struct {
	Selected  []string `json:"selected"`
	OtherText string   `json:"other_text"`
}

// ToggleOptionRequest for POST /api/session/dialog/toggle
type ToggleOptionRequest struct {
	Option string `json:"option"`
}

// ClassificationRequest for PUT /api/session/classification
type ClassificationRequest struct {
	Value     string `json:"value"`
	OtherText string `json:"other_text"`
}

// ============================================================================
// Handler
// ============================================================================

// SessionHandler exposes the per-user annotation session.
type SessionHandler struct {
	sessionService services.SessionService
	logger         *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionService services.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         logger,
	}
}

// RegisterRoutes registers the session handler's routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	base := "/api/session"
	route := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware.RequireAuth(scope(fn)))
	}

	route("GET "+base, h.View)
	route("POST "+base, h.Open)
	route("POST "+base+"/select/{entityId}", h.Select)
	route("POST "+base+"/draw", h.Draw)
	route("POST "+base+"/features/{key}/click", h.Click)
	route("PUT "+base+"/dialog", h.UpdateDialog)
	route("POST "+base+"/dialog/toggle", h.ToggleOption)
	route("POST "+base+"/dialog/save", h.SaveDialog)
	route("POST "+base+"/dialog/delete", h.DeleteDialog)
	route("POST "+base+"/dialog/cancel", h.CancelDialog)
	route("PUT "+base+"/classification", h.SetClassification)
	route("POST "+base+"/complete", h.MarkComplete)
}

// respond writes the session view or maps the service error.
func (h *SessionHandler) respond(w http.ResponseWriter, operation string, view *services.SessionView, err error) {
	if err != nil {
		writeServiceError(w, h.logger, operation, err)
		return
	}
	writeSuccess(w, http.StatusOK, view, h.logger)
}

// View handles GET /api/session
func (h *SessionHandler) View(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.View(r.Context(), who)
	h.respond(w, "view session", view, err)
}

// Open handles POST /api/session
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.Open(r.Context(), who)
	h.respond(w, "open session", view, err)
}

// Select handles POST /api/session/select/{entityId}
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.Select(r.Context(), who, entityID)
	h.respond(w, "select entity", view, err)
}

// Draw handles POST /api/session/draw
// The body is a GeoJSON geometry. A GeoJSON Feature is also accepted.
func (h *SessionHandler) Draw(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	var geometry models.Geometry
	if !decodeJSON(w, r, &geometry, h.logger) {
		return
	}
	geometry, err := unwrapFeature(geometry)
	if err != nil {
		writeServiceError(w, h.logger, "draw", err)
		return
	}
	view, err := h.sessionService.Draw(r.Context(), who, geometry)
	h.respond(w, "draw", view, err)
}

// Click handles POST /api/session/features/{key}/click
func (h *SessionHandler) Click(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.Click(r.Context(), who, r.PathValue("key"))
	h.respond(w, "click feature", view, err)
}

// UpdateDialog handles PUT /api/session/dialog
func (h *SessionHandler) UpdateDialog(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	var req UpdateDialogRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	view, err := h.sessionService.UpdateDialog(r.Context(), who, req.Selected, req.OtherText)
	h.respond(w, "update dialog", view, err)
}

// ToggleOption handles POST /api/session/dialog/toggle
func (h *SessionHandler) ToggleOption(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	var req ToggleOptionRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	view, err := h.sessionService.ToggleOption(r.Context(), who, req.Option)
	h.respond(w, "toggle option", view, err)
}

// SaveDialog handles POST /api/session/dialog/save
func (h *SessionHandler) SaveDialog(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.SaveDialog(r.Context(), who)
	h.respond(w, "save annotation", view, err)
}

// DeleteDialog handles POST /api/session/dialog/delete
func (h *SessionHandler) DeleteDialog(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.DeleteDialog(r.Context(), who)
	h.respond(w, "delete annotation", view, err)
}

// CancelDialog handles POST /api/session/dialog/cancel
func (h *SessionHandler) CancelDialog(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.CancelDialog(r.Context(), who)
	h.respond(w, "cancel dialog", view, err)
}

// SetClassification handles PUT /api/session/classification
func (h *SessionHandler) SetClassification(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	var req ClassificationRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}
	view, err := h.sessionService.SetClassification(r.Context(), who, req.Value, req.OtherText)
	h.respond(w, "set classification", view, err)
}

// MarkComplete handles POST /api/session/complete
func (h *SessionHandler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.sessionService.MarkComplete(r.Context(), who)
	h.respond(w, "mark complete", view, err)
}

func unwrapFeature(g models.Geometry) (models.Geometry, error) {
	if g.IsZero() {
		return nil, fmt.Errorf("%w: geometry is required", apperrors.ErrValidation)
	}
	if g.Kind() != "Feature" {
		return g, nil
	}
	var feature struct {
		Geometry models.Geometry `json:"geometry"`
	}
	if err := json.Unmarshal(g, &feature); err != nil || feature.Geometry.IsZero() {
		return nil, fmt.Errorf("%w: feature has no geometry", apperrors.ErrValidation)
	}
	return feature.Geometry, nil
}
