package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/apperrors"
	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// EntityListResponse for GET /api/entities
type EntityListResponse struct {
	Entities []services.EntityListItem `json:"entities"`
	Total    int                       `json:"total"`
}

// EntityHandler serves entities outside an annotation session.
type EntityHandler struct {
	entityService services.EntityService
	logger        *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(entityService services.EntityService, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{
		entityService: entityService,
		logger:        logger,
	}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/entities", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /api/entities/{entityId}", authMiddleware.RequireAuth(scope(h.Get)))
}

// List handles GET /api/entities
// Optional query parameter completed=true|false filters by completion.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.EntityFilter
	if raw := r.URL.Query().Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			writeServiceError(w, h.logger, "list entities", apperrors.ErrValidation)
			return
		}
		filter.Completed = &completed
	}

	items, err := h.entityService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "list entities", err)
		return
	}

	writeSuccess(w, http.StatusOK, EntityListResponse{Entities: items, Total: len(items)}, h.logger)
}

// Get handles GET /api/entities/{entityId}
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	entityID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	detail, err := h.entityService.Get(r.Context(), entityID)
	if err != nil {
		writeServiceError(w, h.logger, "get entity", err)
		return
	}

	writeSuccess(w, http.StatusOK, detail, h.logger)
}
