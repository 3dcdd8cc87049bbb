package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// PointListResponse for GET /api/entities/{entityId}/points
type PointListResponse struct {
	Points []*models.PointAnnotation `json:"points"`
	Total  int                       `json:"total"`
}

// PointHandler manages point annotations on image entities.
type PointHandler struct {
	pointService services.PointAnnotationService
	logger       *zap.Logger
}

// NewPointHandler creates a new point handler.
func NewPointHandler(pointService services.PointAnnotationService, logger *zap.Logger) *PointHandler {
	return &PointHandler{
		pointService: pointService,
		logger:       logger,
	}
}

// RegisterRoutes registers the point handler's routes on the given mux.
func (h *PointHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/entities/{entityId}/points", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/entities/{entityId}/points", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("DELETE /api/points/{pointId}", authMiddleware.RequireAuth(scope(h.Delete)))
}

// Create handles POST /api/entities/{entityId}/points
func (h *PointHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}
	var input services.PointInput
	if !decodeJSON(w, r, &input, h.logger) {
		return
	}

	point, err := h.pointService.Create(r.Context(), who, entityID, input)
	if err != nil {
		writeServiceError(w, h.logger, "create point", err)
		return
	}

	writeSuccess(w, http.StatusCreated, point, h.logger)
}

// List handles GET /api/entities/{entityId}/points
func (h *PointHandler) List(w http.ResponseWriter, r *http.Request) {
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	points, err := h.pointService.List(r.Context(), entityID)
	if err != nil {
		writeServiceError(w, h.logger, "list points", err)
		return
	}

	writeSuccess(w, http.StatusOK, PointListResponse{Points: points, Total: len(points)}, h.logger)
}

// Delete handles DELETE /api/points/{pointId}
func (h *PointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	pointID, ok := ParsePointID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.pointService.Delete(r.Context(), pointID); err != nil {
		writeServiceError(w, h.logger, "delete point", err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"id": pointID.String()}, h.logger)
}
