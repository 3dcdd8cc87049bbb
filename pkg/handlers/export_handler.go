package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// ExportHandler serves the annotations download.
type ExportHandler struct {
	exportService services.ExportService
	logger        *zap.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(exportService services.ExportService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		exportService: exportService,
		logger:        logger,
	}
}

// RegisterRoutes registers the export handler's routes on the given mux.
func (h *ExportHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/export/"+services.ExportFileName, authMiddleware.RequireAuth(scope(h.Download)))
}

// Download handles GET /api/export/annotations.json
// The body is the bare JSON array of completed entities, indented, as an attachment.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	exported, err := h.exportService.Export(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "export annotations", err)
		return
	}

	body, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		writeServiceError(w, h.logger, "export annotations", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", services.ExportFileName))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("Failed to write export", zap.Error(err))
		return
	}

	h.logger.Info("Annotations exported", zap.Int("entities", len(exported)))
}
